package resolve

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drayhq/dray/internal/surface"
	"github.com/drayhq/dray/pkg/schema"
)

// fakeSurface implements surface.Surface with a configurable set of visible
// locators and a record of performed actions.
type fakeSurface struct {
	visible    map[string]bool
	clicks     []string
	fills      map[string]string
	uploads    map[string]string
	visChecks  []string
	text       map[string]string
	evalResult any
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		visible: make(map[string]bool),
		fills:   make(map[string]string),
		uploads: make(map[string]string),
		text:    make(map[string]string),
	}
}

func (f *fakeSurface) IsVisible(ctx context.Context, loc surface.Locator, timeout time.Duration) (bool, error) {
	f.visChecks = append(f.visChecks, loc.String())
	return f.visible[loc.String()], nil
}

func (f *fakeSurface) Click(ctx context.Context, loc surface.Locator) error {
	f.clicks = append(f.clicks, loc.String())
	return nil
}

func (f *fakeSurface) Fill(ctx context.Context, loc surface.Locator, text string) error {
	f.fills[loc.String()] = text
	return nil
}

func (f *fakeSurface) PressKey(ctx context.Context, key string) error { return nil }

func (f *fakeSurface) UploadFile(ctx context.Context, trigger surface.Locator, path string) error {
	f.uploads[trigger.String()] = path
	return nil
}

func (f *fakeSurface) WaitForEvent(ctx context.Context, kind surface.EventKind, timeout time.Duration) (*surface.Event, error) {
	return nil, schema.NewError(schema.ErrCodeExecution, "no event")
}

func (f *fakeSurface) Evaluate(ctx context.Context, probe string) (any, error) {
	return f.evalResult, nil
}

func (f *fakeSurface) InnerText(ctx context.Context, loc surface.Locator) (string, error) {
	return f.text[loc.String()], nil
}

func (f *fakeSurface) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return nil
}

func (f *fakeSurface) URL() string  { return "https://fake.test" }
func (f *fakeSurface) Close() error { return nil }

var _ surface.Surface = (*fakeSurface)(nil)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestResolveAndAct_FirstVisibleWins(t *testing.T) {
	sf := newFakeSurface()
	sf.visible["css=#send"] = true

	ex := NewExecutor(sf, discard())
	res, err := ex.ResolveAndAct(context.Background(), []Strategy{
		{Name: "primary", Priority: 0, Locator: surface.CSS("#send")},
		{Name: "fallback", Priority: 1, Locator: surface.Role("button", "Send")},
	}, Click(), 10*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, "primary", res.Strategy.Name)
	assert.Equal(t, []string{"css=#send"}, sf.clicks)
	// Short-circuit: the fallback was never probed.
	assert.Equal(t, []string{"css=#send"}, sf.visChecks)
}

func TestResolveAndAct_PriorityOrderNotDeclarationOrder(t *testing.T) {
	sf := newFakeSurface()
	sf.visible["role=button[name=Send]"] = true
	sf.visible["css=#send"] = true

	ex := NewExecutor(sf, discard())
	res, err := ex.ResolveAndAct(context.Background(), []Strategy{
		{Name: "structural", Priority: 2, Locator: surface.CSS("#send")},
		{Name: "role", Priority: 1, Locator: surface.Role("button", "Send")},
	}, Click(), 10*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, "role", res.Strategy.Name)
}

func TestResolveAndAct_FallsThroughToLowerRank(t *testing.T) {
	sf := newFakeSurface()
	sf.visible["text=Confirm"] = true

	ex := NewExecutor(sf, discard())
	res, err := ex.ResolveAndAct(context.Background(), []Strategy{
		{Name: "structural", Priority: 0, Locator: surface.CSS("#confirm")},
		{Name: "role", Priority: 1, Locator: surface.Role("button", "Confirm")},
		{Name: "text", Priority: 2, Locator: surface.Text("Confirm")},
	}, Click(), 10*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, "text", res.Strategy.Name)
	assert.Len(t, sf.visChecks, 3)
}

func TestResolveAndAct_Exhausted(t *testing.T) {
	sf := newFakeSurface()

	ex := NewExecutor(sf, discard())
	_, err := ex.ResolveAndAct(context.Background(), []Strategy{
		{Name: "a", Priority: 0, Locator: surface.CSS("#a")},
		{Name: "b", Priority: 1, Locator: surface.CSS("#b")},
	}, Click(), time.Millisecond)

	var derr *schema.DrayError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, schema.ErrCodeResolutionExhausted, derr.Code)
	assert.Len(t, derr.Details["attempted"], 2)
	assert.Empty(t, sf.clicks, "no action without a resolved target")
}

func TestResolveAndAct_FillAndUpload(t *testing.T) {
	sf := newFakeSurface()
	sf.visible["css=#query"] = true
	sf.visible["css=#file"] = true

	ex := NewExecutor(sf, discard())
	_, err := ex.ResolveAndAct(context.Background(), []Strategy{
		{Name: "input", Priority: 0, Locator: surface.CSS("#query")},
	}, Fill("printing press"), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "printing press", sf.fills["css=#query"])

	_, err = ex.ResolveAndAct(context.Background(), []Strategy{
		{Name: "chooser", Priority: 0, Locator: surface.CSS("#file")},
	}, Upload("/tmp/result.epub"), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/result.epub", sf.uploads["css=#file"])
}

func TestResolveAndAct_ActionErrorNotRetried(t *testing.T) {
	// A second-ranked strategy must not be attempted after the action ran:
	// clicks are not idempotent.
	sf := newFakeSurface()
	sf.visible["css=#a"] = true
	sf.visible["css=#b"] = true

	boom := Action{Name: "boom", Do: func(ctx context.Context, s surface.Surface, loc surface.Locator) error {
		return schema.NewError(schema.ErrCodeExecution, "click intercepted")
	}}

	ex := NewExecutor(sf, discard())
	_, err := ex.ResolveAndAct(context.Background(), []Strategy{
		{Name: "a", Priority: 0, Locator: surface.CSS("#a")},
		{Name: "b", Priority: 1, Locator: surface.CSS("#b")},
	}, boom, time.Millisecond)

	require.Error(t, err)
	var derr *schema.DrayError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, schema.ErrCodeExecution, derr.Code)
	assert.Equal(t, []string{"css=#a"}, sf.visChecks)
}
