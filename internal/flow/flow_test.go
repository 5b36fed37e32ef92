package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/TriagePipe/internal/genai"
	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/store"
)

// fakeModel scripts inference responses per schema name.
type fakeModel struct {
	reply         string
	replyErr      error
	structured    map[string]string
	structuredErr error
}

func (m *fakeModel) GenerateWithMessages(_ context.Context, _ []openai.ChatCompletionMessageParamUnion) (string, error) {
	if m.replyErr != nil {
		return "", m.replyErr
	}
	return m.reply, nil
}

func (m *fakeModel) GenerateStructured(_ context.Context, _ []openai.ChatCompletionMessageParamUnion, schema genai.ResponseSchema, out any) error {
	if m.structuredErr != nil {
		return m.structuredErr
	}
	payload, ok := m.structured[schema.Name]
	if !ok {
		return fmt.Errorf("no scripted response for schema %s", schema.Name)
	}
	return json.Unmarshal([]byte(payload), out)
}

type fakeKB struct {
	results []models.KBSnippet
	err     error
	queries []string
}

func (k *fakeKB) Search(_ context.Context, query string, _ int) ([]models.KBSnippet, error) {
	k.queries = append(k.queries, query)
	return k.results, k.err
}

type fakeDirectory struct {
	doctors   []models.Clinic
	locations []models.Clinic
	err       error
}

func (d *fakeDirectory) SearchDoctors(_ context.Context, _, specialty, _ string) ([]models.Clinic, error) {
	if d.err != nil {
		return nil, d.err
	}
	out := make([]models.Clinic, len(d.doctors))
	copy(out, d.doctors)
	for i := range out {
		out[i].Specialty = specialty
	}
	return out, nil
}

func (d *fakeDirectory) ProviderLocations(_ context.Context, _, _ string, pageSize int) ([]models.Clinic, error) {
	if d.err != nil {
		return nil, d.err
	}
	if len(d.locations) > pageSize {
		return d.locations[:pageSize], nil
	}
	return d.locations, nil
}

type fakeDispatcher struct {
	result models.CallDispatchResult
	calls  int
	phones []string
}

func (c *fakeDispatcher) StartCall(_ context.Context, phone string, _ map[string]string) models.CallDispatchResult {
	c.calls++
	c.phones = append(c.phones, phone)
	return c.result
}

func newTestEngine(t *testing.T, opts ...Option) *TurnEngine {
	t.Helper()
	engine, err := NewTurnEngine(store.NewInMemoryStore(), opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return engine
}

func TestNewTurnEngineRequiresStore(t *testing.T) {
	if _, err := NewTurnEngine(nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}
