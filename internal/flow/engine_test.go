package flow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/CarPulse/internal/chart"
	"github.com/BTreeMap/CarPulse/internal/models"
	"github.com/BTreeMap/CarPulse/internal/store"
)

type testCatalog struct {
	catalog models.Catalog
	history models.PriceHistory
}

func (c testCatalog) Snapshot() (models.Catalog, models.PriceHistory) {
	return c.catalog.Clone(), c.history.Clone()
}

func (c testCatalog) Periods() models.Periods {
	return models.DefaultPeriods()
}

func newTestCatalog(t *testing.T) testCatalog {
	t.Helper()
	c, err := models.NewCatalog(
		models.Vehicle{Name: "Toyota Camry", Price: 25000, Horsepower: 203, FuelEconomy: "28 MPG", Year: 2023, EngineType: "Gasoline", Country: "Japan"},
		models.Vehicle{Name: "Honda Civic", Price: 22000, Horsepower: 158, FuelEconomy: "32 MPG", Year: 2023, EngineType: "Gasoline", Country: "Japan"},
		models.Vehicle{Name: "BMW X5", Price: 60000, Horsepower: 335, FuelEconomy: "21 MPG", Year: 2023, EngineType: "Diesel", Country: "Germany"},
	)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	return testCatalog{
		catalog: c,
		history: models.PriceHistory{
			"Toyota Camry": {25000, 25000, 25000, 25000, 25000},
			"Honda Civic":  {21000, 21200, 21500, 21800, 22000},
			"BMW X5":       {58000, 59000, 60000, 61000, 60000},
		},
	}
}

// recordingRenderer records requests and delegates to the real renderer.
type recordingRenderer struct {
	mu      sync.Mutex
	inner   *chart.Renderer
	calls   [][]string
	windows []models.Window
}

func (r *recordingRenderer) Render(names []string, w models.Window) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), names...))
	r.windows = append(r.windows, w)
	r.mu.Unlock()
	return r.inner.Render(names, w)
}

type engineFixture struct {
	engine   *Engine
	sessions *StoreBasedSessionManager
	renderer *recordingRenderer
}

func newEngineFixture(t *testing.T, src testCatalog) *engineFixture {
	t.Helper()
	sessions := NewMockSessionManager()
	renderer := &recordingRenderer{inner: chart.NewRenderer(src)}
	return &engineFixture{
		engine:   NewEngine(src, renderer, sessions),
		sessions: sessions,
		renderer: renderer,
	}
}

// send feeds the inputs in order and returns the actions of the last one.
func (f *engineFixture) send(t *testing.T, userID string, inputs ...string) []models.Action {
	t.Helper()
	var actions []models.Action
	for _, in := range inputs {
		var err error
		actions, err = f.engine.Handle(context.Background(), userID, in)
		if err != nil {
			t.Fatalf("Handle(%q) failed: %v", in, err)
		}
		for _, a := range actions {
			if err := a.Validate(); err != nil {
				t.Fatalf("Handle(%q) produced invalid action %+v: %v", in, a, err)
			}
		}
	}
	return actions
}

func (f *engineFixture) session(t *testing.T, userID string) *models.Session {
	t.Helper()
	sess, err := f.sessions.Load(context.Background(), userID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return sess
}

func lastChoices(t *testing.T, actions []models.Action) models.Action {
	t.Helper()
	for i := len(actions) - 1; i >= 0; i-- {
		if actions[i].Type == models.ActionTypeChoices {
			return actions[i]
		}
	}
	t.Fatalf("no choices action in %+v", actions)
	return models.Action{}
}

func TestStartShowsMenu(t *testing.T) {
	f := newEngineFixture(t, newTestCatalog(t))
	actions := f.send(t, "u1", "/start")
	if len(actions) != 1 || actions[0].Type != models.ActionTypeChoices || actions[0].Text != MsgWelcome {
		t.Fatalf("unexpected actions: %+v", actions)
	}
	if strings.Join(actions[0].Choices, "|") != strings.Join(MenuLabels, "|") {
		t.Errorf("unexpected menu: %v", actions[0].Choices)
	}
	if sess := f.session(t, "u1"); !sess.IsIdle() || len(sess.Offered) != len(MenuLabels) {
		t.Errorf("expected idle session remembering the menu, got %+v", sess)
	}
}

func TestUnrecognisedInputInIdleShowsHelp(t *testing.T) {
	f := newEngineFixture(t, newTestCatalog(t))
	actions := f.send(t, "u1", "hello there")
	if len(actions) != 1 || actions[0].Text != MsgHelp {
		t.Errorf("unexpected actions: %+v", actions)
	}
}

func TestListCars(t *testing.T) {
	f := newEngineFixture(t, newTestCatalog(t))
	actions := f.send(t, "u1", "list CARS")
	want := "Available cars:\nToyota Camry: $25000\nHonda Civic: $22000\nBMW X5: $60000"
	if len(actions) == 0 || actions[0].Text != want {
		t.Errorf("unexpected listing: %+v", actions)
	}
}

func TestSpecsFlow(t *testing.T) {
	f := newEngineFixture(t, newTestCatalog(t))

	actions := f.send(t, "u1", "Specs")
	prompt := lastChoices(t, actions)
	if prompt.Text != MsgSpecsPrompt || prompt.Choices[0] != "Toyota Camry" || prompt.Choices[len(prompt.Choices)-1] != LabelCancel {
		t.Errorf("unexpected prompt: %+v", prompt)
	}
	if sess := f.session(t, "u1"); sess.State != models.StateAwaitingVehicleForSpecs {
		t.Fatalf("unexpected state: %s", sess.State)
	}

	actions = f.send(t, "u1", "Lada Niva")
	if actions[0].Text != MsgUnknownVehicle {
		t.Errorf("expected re-prompt, got %+v", actions)
	}
	if sess := f.session(t, "u1"); sess.State != models.StateAwaitingVehicleForSpecs {
		t.Errorf("unknown vehicle must keep the state, got %s", sess.State)
	}

	actions = f.send(t, "u1", "bmw x5")
	if len(actions) != 1 || !strings.HasPrefix(actions[0].Text, "BMW X5 specifications:") || !strings.Contains(actions[0].Text, "Engine: Diesel") {
		t.Errorf("unexpected specs: %+v", actions)
	}
	if sess := f.session(t, "u1"); !sess.IsIdle() || len(sess.Selection) != 0 {
		t.Errorf("expected idle session, got %+v", sess)
	}
}

func TestCompareSpecsFlow(t *testing.T) {
	f := newEngineFixture(t, newTestCatalog(t))
	f.send(t, "u1", "Compare cars", "Toyota Camry")
	sess := f.session(t, "u1")
	if sess.State != models.StateAwaitingSecondVehicle || len(sess.Selection) != 1 {
		t.Fatalf("unexpected session: %+v", sess)
	}

	actions := f.send(t, "u1", "BMW X5")
	if len(actions) != 1 || !strings.HasPrefix(actions[0].Text, "Comparison of Toyota Camry and BMW X5:") {
		t.Fatalf("unexpected comparison: %+v", actions)
	}
	if !strings.Contains(actions[0].Text, "Price: $25000 | $60000") {
		t.Errorf("comparison should list both prices: %q", actions[0].Text)
	}
	if sess := f.session(t, "u1"); !sess.IsIdle() || len(sess.Selection) != 0 {
		t.Errorf("expected cleared idle session, got %+v", sess)
	}
	if len(f.renderer.calls) != 0 {
		t.Error("spec comparison must not render a chart")
	}
}

func TestCompareChartFlowYieldsOneImage(t *testing.T) {
	f := newEngineFixture(t, newTestCatalog(t))
	f.send(t, "u1", "Price chart", "Compare several", "Toyota Camry", "Honda Civic")
	if sess := f.session(t, "u1"); sess.State != models.StateAwaitingPeriodForChart || len(sess.Selection) != 2 {
		t.Fatalf("unexpected session: %+v", sess)
	}

	actions := f.send(t, "u1", "All months")
	if len(actions) != 1 || actions[0].Type != models.ActionTypeImage {
		t.Fatalf("expected exactly one image, got %+v", actions)
	}
	img := actions[0]
	if img.Caption != "Price comparison for Toyota Camry vs Honda Civic over all months" {
		t.Errorf("unexpected caption: %q", img.Caption)
	}
	if img.Filename != "Toyota_Camry_vs_Honda_Civic_price_chart.png" {
		t.Errorf("unexpected filename: %q", img.Filename)
	}
	if _, err := png.DecodeConfig(bytes.NewReader(img.Image)); err != nil {
		t.Errorf("image is not a PNG: %v", err)
	}
	if sess := f.session(t, "u1"); !sess.IsIdle() || len(sess.Selection) != 0 {
		t.Errorf("expected cleared idle session, got %+v", sess)
	}
}

func TestSingleChartWithNumericReplies(t *testing.T) {
	f := newEngineFixture(t, newTestCatalog(t))
	f.send(t, "u1", "Price chart")
	f.send(t, "u1", "1") // Toyota Camry
	actions := f.send(t, "u1", "1")
	if len(actions) != 1 || actions[0].Type != models.ActionTypeImage {
		t.Fatalf("expected an image, got %+v", actions)
	}
	if actions[0].Caption != "Price chart for Toyota Camry over the last 3 months" {
		t.Errorf("unexpected caption: %q", actions[0].Caption)
	}
	if len(f.renderer.windows) != 1 || f.renderer.windows[0].Last != 3 {
		t.Errorf("expected a 3 month window, got %+v", f.renderer.windows)
	}
}

func TestNumericReplyOutOfRangeIsUnknown(t *testing.T) {
	f := newEngineFixture(t, newTestCatalog(t))
	actions := f.send(t, "u1", "Specs", "42")
	if actions[0].Text != MsgUnknownVehicle {
		t.Errorf("expected re-prompt, got %+v", actions)
	}
}

func TestNumericReplySelectsLongName(t *testing.T) {
	src := newTestCatalog(t)
	long := "Mercedes-Benz AMG GT 63 S E Performance 4-Door Coupe " + strings.Repeat("Edition ", 8)
	long = strings.TrimSpace(long)
	if err := src.catalog.Add(models.Vehicle{Name: long, Price: 180000}); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	src.history[long] = []int{180000, 180000, 180000, 180000, 180000}

	f := newEngineFixture(t, src)
	actions := f.send(t, "u1", "Specs", "4")
	if len(actions) != 1 || !strings.HasPrefix(actions[0].Text, long+" specifications") {
		t.Errorf("expected specs for %q, got %+v", long, actions)
	}
}

func TestCommandLabelsAreReservedNames(t *testing.T) {
	labels := append([]string{"/start", "/cancel", "menu", LabelCompareSeveral, LabelCancel}, MenuLabels...)
	for _, label := range labels {
		if !models.IsReservedInput(label) {
			t.Errorf("%q is matched as a command but allowed as a vehicle name", label)
		}
	}
}

func TestUnknownPeriodKeepsState(t *testing.T) {
	f := newEngineFixture(t, newTestCatalog(t))
	actions := f.send(t, "u1", "Price chart", "BMW X5", "forever")
	if actions[0].Text != MsgUnknownPeriod {
		t.Errorf("unexpected actions: %+v", actions)
	}
	if sess := f.session(t, "u1"); sess.State != models.StateAwaitingPeriodForChart || len(sess.Selection) != 1 {
		t.Errorf("unexpected session: %+v", sess)
	}
}

func TestRenderFailureReportsAndResets(t *testing.T) {
	src := newTestCatalog(t)
	src.history["Honda Civic"] = []int{1, 2, 3, 4, 5, 6, 7}
	f := newEngineFixture(t, src)

	actions := f.send(t, "u1", "Price chart", "Compare several", "Toyota Camry", "Honda Civic", "All months")
	if len(actions) != 1 || actions[0].Type != models.ActionTypeText || actions[0].Text != MsgRenderFailed {
		t.Fatalf("expected one failure notice, got %+v", actions)
	}
	if sess := f.session(t, "u1"); !sess.IsIdle() || len(sess.Selection) != 0 {
		t.Errorf("expected cleared idle session, got %+v", sess)
	}
}

func TestCancelFromAnyState(t *testing.T) {
	paths := map[string][]string{
		"specs":          {"Specs"},
		"chart target":   {"Price chart"},
		"first vehicle":  {"Compare cars"},
		"second vehicle": {"Compare cars", "Toyota Camry"},
		"period single":  {"Price chart", "BMW X5"},
		"period pair":    {"Price chart", "Compare several", "Toyota Camry", "BMW X5"},
	}
	for name, path := range paths {
		for _, cancel := range []string{"/cancel", "Cancel", "CANCEL"} {
			t.Run(name+" "+cancel, func(t *testing.T) {
				f := newEngineFixture(t, newTestCatalog(t))
				f.send(t, "u1", path...)
				if f.session(t, "u1").IsIdle() {
					t.Fatal("setup should leave a flow in progress")
				}
				actions := f.send(t, "u1", cancel)
				if len(actions) != 1 || actions[0].Text != MsgCancelled {
					t.Errorf("unexpected actions: %+v", actions)
				}
				sess := f.session(t, "u1")
				if !sess.IsIdle() || len(sess.Selection) != 0 || sess.Intent != models.IntentNone {
					t.Errorf("expected cleared idle session, got %+v", sess)
				}
				if len(f.renderer.calls) != 0 {
					t.Error("cancel must not render")
				}
			})
		}
	}
}

func TestCancelInIdle(t *testing.T) {
	f := newEngineFixture(t, newTestCatalog(t))
	actions := f.send(t, "u1", "/cancel")
	if len(actions) != 1 || actions[0].Text != MsgCancelled {
		t.Errorf("unexpected actions: %+v", actions)
	}
	if n, _ := f.sessions.store.CountSessions(context.Background()); n != 0 {
		t.Errorf("cancel in idle should not store a session, have %d", n)
	}
}

func TestMenuCommandDiscardsFlow(t *testing.T) {
	f := newEngineFixture(t, newTestCatalog(t))
	f.send(t, "u1", "Price chart", "Compare several", "Toyota Camry")
	f.send(t, "u1", "Specs")
	sess := f.session(t, "u1")
	if sess.State != models.StateAwaitingVehicleForSpecs || len(sess.Selection) != 0 {
		t.Errorf("expected a fresh specs flow, got %+v", sess)
	}
}

func TestUsersAreIndependent(t *testing.T) {
	f := newEngineFixture(t, newTestCatalog(t))
	f.send(t, "alice", "Compare cars", "Toyota Camry")
	f.send(t, "bob", "Specs")
	if sess := f.session(t, "alice"); sess.State != models.StateAwaitingSecondVehicle {
		t.Errorf("alice's flow was disturbed: %+v", sess)
	}
}

func TestConcurrentUsers(t *testing.T) {
	f := newEngineFixture(t, newTestCatalog(t))
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			var last []models.Action
			for _, in := range []string{"Compare cars", "Toyota Camry", "Honda Civic"} {
				actions, err := f.engine.Handle(context.Background(), user, in)
				if err != nil {
					errs <- err
					return
				}
				last = actions
			}
			if len(last) != 1 || !strings.HasPrefix(last[0].Text, "Comparison of Toyota Camry and Honda Civic") {
				errs <- fmt.Errorf("%s: unexpected result %+v", user, last)
			}
		}(fmt.Sprintf("user-%d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if n := f.engine.locks.size(); n != 0 {
		t.Errorf("expected all user locks released, have %d", n)
	}
}

// failingStore fails every save and counts deletes.
type failingStore struct {
	*store.InMemoryStore
	deletes int
}

var errStoreDown = errors.New("store down")

func (s *failingStore) SaveSession(ctx context.Context, session models.Session) error {
	return errStoreDown
}

func (s *failingStore) DeleteSession(ctx context.Context, userID string) error {
	s.deletes++
	return s.InMemoryStore.DeleteSession(ctx, userID)
}

func TestSessionStoreFailureResetsSession(t *testing.T) {
	src := newTestCatalog(t)
	st := &failingStore{InMemoryStore: store.NewInMemoryStore()}
	engine := NewEngine(src, chart.NewRenderer(src), NewStoreBasedSessionManager(st))

	actions, err := engine.Handle(context.Background(), "u1", "Specs")
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error, got %v", err)
	}
	if actions != nil {
		t.Errorf("expected no actions on failure, got %+v", actions)
	}
	if st.deletes == 0 {
		t.Error("engine should try to reset the session after a store failure")
	}
}

func TestHandleRequiresUser(t *testing.T) {
	f := newEngineFixture(t, newTestCatalog(t))
	if _, err := f.engine.Handle(context.Background(), "", "Specs"); !errors.Is(err, models.ErrEmptyRecipient) {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
}
