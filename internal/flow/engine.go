package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CarPulse/internal/chart"
	"github.com/BTreeMap/CarPulse/internal/models"
)

// CatalogSource provides a consistent snapshot of the catalog data.
type CatalogSource interface {
	Snapshot() (models.Catalog, models.PriceHistory)
	Periods() models.Periods
}

// ChartRenderer draws a price chart for the named vehicles.
type ChartRenderer interface {
	Render(names []string, w models.Window) ([]byte, error)
}

// ChartFilenameFunc names the attachment of a rendered chart.
type ChartFilenameFunc func(names []string) string

// Opts holds configuration options for the conversation engine.
type Opts struct {
	Now           func() time.Time
	PeriodChoices []PeriodChoice
	ChartFilename ChartFilenameFunc
}

// Option defines a configuration option for the conversation engine.
type Option func(*Opts)

// WithClock sets the time source used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// WithPeriodChoices replaces the period buttons offered before rendering.
func WithPeriodChoices(choices []PeriodChoice) Option {
	return func(o *Opts) {
		o.PeriodChoices = choices
	}
}

// WithChartFilename sets how chart attachments are named.
func WithChartFilename(fn ChartFilenameFunc) Option {
	return func(o *Opts) {
		o.ChartFilename = fn
	}
}

// Engine is the per-user conversation state machine.
// Events of one user are serialised; different users run in parallel.
type Engine struct {
	catalog       CatalogSource
	renderer      ChartRenderer
	sessions      SessionManager
	now           func() time.Time
	periodChoices []PeriodChoice
	chartFilename ChartFilenameFunc
	locks         *userLocks
}

// NewEngine creates a conversation engine.
func NewEngine(catalog CatalogSource, renderer ChartRenderer, sessions SessionManager, opts ...Option) *Engine {
	cfg := Opts{
		Now:           time.Now,
		PeriodChoices: DefaultPeriodChoices,
		ChartFilename: chart.Filename,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewEngine created", "periodChoices", len(cfg.PeriodChoices))
	return &Engine{
		catalog:       catalog,
		renderer:      renderer,
		sessions:      sessions,
		now:           cfg.Now,
		periodChoices: cfg.PeriodChoices,
		chartFilename: cfg.ChartFilename,
		locks:         newUserLocks(),
	}
}

// turn carries the data of one Handle call.
type turn struct {
	sess    *models.Session
	catalog models.Catalog
	history models.PriceHistory
	input   string
	now     time.Time
}

// Handle processes one inbound event of a user and returns the replies in order.
// A session store failure is returned as an error after the session is reset.
func (e *Engine) Handle(ctx context.Context, userID, text string) ([]models.Action, error) {
	if userID == "" {
		return nil, models.ErrEmptyRecipient
	}
	unlock := e.locks.Lock(userID)
	defer unlock()

	sess, err := e.sessions.Load(ctx, userID)
	if err != nil {
		e.recover(ctx, userID)
		return nil, fmt.Errorf("load session for %s: %w", userID, err)
	}

	catalog, history := e.catalog.Snapshot()
	t := &turn{
		sess:    sess,
		catalog: catalog,
		history: history,
		input:   resolveOffered(sess.Offered, strings.TrimSpace(text)),
		now:     e.now(),
	}
	from := sess.State
	actions := e.step(t)

	// Remember the labels just offered so numeric replies can be resolved.
	sess.Offered = nil
	for _, a := range actions {
		if a.Type == models.ActionTypeChoices {
			sess.Offered = append([]string(nil), a.Choices...)
		}
	}
	sess.UpdatedAt = t.now

	if err := e.sessions.Save(ctx, sess); err != nil {
		e.recover(ctx, userID)
		return nil, fmt.Errorf("save session for %s: %w", userID, err)
	}
	slog.Debug("Engine.Handle completed", "userID", userID, "from", from, "to", sess.State, "actions", len(actions))
	return actions, nil
}

// recover tries to drop a session after a store failure so the user is not stuck.
func (e *Engine) recover(ctx context.Context, userID string) {
	if err := e.sessions.Clear(ctx, userID); err != nil {
		slog.Error("Engine failed to reset session after store error", "userID", userID, "error", err)
	}
}

// step applies the input to the session and returns the replies.
func (e *Engine) step(t *turn) []models.Action {
	switch strings.ToLower(t.input) {
	case "/start", "menu":
		t.sess.Reset(t.now)
		return []models.Action{models.ChoicesAction(MsgWelcome, MenuLabels...)}
	case "/cancel", strings.ToLower(LabelCancel):
		return e.cancel(t)
	case strings.ToLower(LabelList):
		t.sess.Reset(t.now)
		return []models.Action{
			models.TextAction(formatList(t.catalog.Vehicles())),
			models.ChoicesAction(MsgNext, MenuLabels...),
		}
	case strings.ToLower(LabelSpecs):
		t.sess.Reset(t.now)
		t.sess.Intent = models.IntentSpecs
		t.sess.Transition(models.StateAwaitingVehicleForSpecs, t.now)
		return []models.Action{e.vehiclePrompt(t, MsgSpecsPrompt)}
	case strings.ToLower(LabelCompare):
		t.sess.Reset(t.now)
		t.sess.Intent = models.IntentSpecs
		t.sess.Transition(models.StateAwaitingFirstVehicle, t.now)
		return []models.Action{e.vehiclePrompt(t, MsgFirstVehiclePrompt)}
	case strings.ToLower(LabelChart):
		t.sess.Reset(t.now)
		t.sess.Intent = models.IntentChart
		t.sess.Transition(models.StateAwaitingChartTarget, t.now)
		return []models.Action{e.chartTargetPrompt(t)}
	}

	switch t.sess.State {
	case models.StateAwaitingVehicleForSpecs:
		return e.onVehicleForSpecs(t)
	case models.StateAwaitingChartTarget:
		return e.onChartTarget(t)
	case models.StateAwaitingFirstVehicle:
		return e.onFirstVehicle(t)
	case models.StateAwaitingSecondVehicle:
		return e.onSecondVehicle(t)
	case models.StateAwaitingPeriodForChart:
		return e.onPeriod(t)
	default:
		return []models.Action{models.ChoicesAction(MsgHelp, MenuLabels...)}
	}
}

func (e *Engine) cancel(t *turn) []models.Action {
	if !t.sess.IsIdle() {
		slog.Info("Engine flow cancelled", "userID", t.sess.UserID, "state", t.sess.State, "selection", len(t.sess.Selection))
	}
	t.sess.Reset(t.now)
	return []models.Action{models.TextAction(MsgCancelled)}
}

func (e *Engine) onVehicleForSpecs(t *turn) []models.Action {
	v, ok := matchVehicle(t.catalog, t.input)
	if !ok {
		return e.unknownVehicle(t, MsgSpecsPrompt)
	}
	t.sess.Reset(t.now)
	slog.Info("Engine specs shown", "userID", t.sess.UserID, "vehicle", v.Name)
	return []models.Action{models.TextAction(formatSpecs(v))}
}

func (e *Engine) onChartTarget(t *turn) []models.Action {
	if strings.EqualFold(t.input, LabelCompareSeveral) {
		t.sess.Intent = models.IntentChart
		t.sess.Transition(models.StateAwaitingFirstVehicle, t.now)
		return []models.Action{e.vehiclePrompt(t, MsgFirstVehiclePrompt)}
	}
	v, ok := matchVehicle(t.catalog, t.input)
	if !ok {
		return []models.Action{models.TextAction(MsgUnknownVehicle), e.chartTargetPrompt(t)}
	}
	t.sess.Select(v.Name)
	t.sess.Transition(models.StateAwaitingPeriodForChart, t.now)
	return []models.Action{e.periodPrompt()}
}

func (e *Engine) onFirstVehicle(t *turn) []models.Action {
	v, ok := matchVehicle(t.catalog, t.input)
	if !ok {
		return e.unknownVehicle(t, MsgFirstVehiclePrompt)
	}
	t.sess.Selection = []string{v.Name}
	t.sess.Transition(models.StateAwaitingSecondVehicle, t.now)
	return []models.Action{e.vehiclePrompt(t, fmt.Sprintf(MsgSecondVehiclePrompt, v.Name))}
}

func (e *Engine) onSecondVehicle(t *turn) []models.Action {
	if len(t.sess.Selection) == 0 {
		slog.Warn("Engine second vehicle without first, resetting", "userID", t.sess.UserID)
		t.sess.Reset(t.now)
		return []models.Action{models.ChoicesAction(MsgHelp, MenuLabels...)}
	}
	v, ok := matchVehicle(t.catalog, t.input)
	if !ok {
		return e.unknownVehicle(t, fmt.Sprintf(MsgSecondVehiclePrompt, t.sess.Selection[0]))
	}
	t.sess.Select(v.Name)

	if t.sess.Intent == models.IntentChart {
		t.sess.Transition(models.StateAwaitingPeriodForChart, t.now)
		return []models.Action{e.periodPrompt()}
	}

	first, ok := t.catalog.Get(t.sess.Selection[0])
	t.sess.Reset(t.now)
	if !ok {
		return []models.Action{models.TextAction(MsgUnknownVehicle)}
	}
	slog.Info("Engine comparison shown", "userID", t.sess.UserID, "first", first.Name, "second", v.Name)
	return []models.Action{models.TextAction(formatComparison(first, v))}
}

func (e *Engine) onPeriod(t *turn) []models.Action {
	choice, ok := e.matchPeriod(t.input)
	if !ok {
		return []models.Action{models.TextAction(MsgUnknownPeriod), e.periodPrompt()}
	}
	names := append([]string(nil), t.sess.Selection...)
	t.sess.Reset(t.now)
	if len(names) == 0 {
		slog.Warn("Engine period chosen without vehicles, resetting", "userID", t.sess.UserID)
		return []models.Action{models.ChoicesAction(MsgHelp, MenuLabels...)}
	}

	img, err := e.renderer.Render(names, choice.Window)
	if err != nil {
		var rerr *chart.RenderError
		if errors.As(err, &rerr) {
			slog.Warn("Engine chart render failed", "userID", t.sess.UserID, "vehicles", names, "error", err)
		} else {
			slog.Error("Engine chart render failed with unexpected error", "userID", t.sess.UserID, "vehicles", names, "error", err)
		}
		return []models.Action{models.TextAction(MsgRenderFailed)}
	}
	slog.Info("Engine chart rendered", "userID", t.sess.UserID, "vehicles", names, "period", choice.Label, "bytes", len(img))
	return []models.Action{models.ImageAction(img, e.chartFilename(names), chartCaption(names, choice.Window))}
}

func (e *Engine) unknownVehicle(t *turn, prompt string) []models.Action {
	slog.Debug("Engine unknown vehicle", "userID", t.sess.UserID, "input", t.input, "state", t.sess.State)
	return []models.Action{models.TextAction(MsgUnknownVehicle), e.vehiclePrompt(t, prompt)}
}

func (e *Engine) vehiclePrompt(t *turn, prompt string) models.Action {
	labels := append(t.catalog.Names(), LabelCancel)
	return models.ChoicesAction(prompt, labels...)
}

func (e *Engine) chartTargetPrompt(t *turn) models.Action {
	labels := append(t.catalog.Names(), LabelCompareSeveral, LabelCancel)
	return models.ChoicesAction(MsgChartTargetPrompt, labels...)
}

func (e *Engine) periodPrompt() models.Action {
	labels := make([]string, 0, len(e.periodChoices)+1)
	for _, c := range e.periodChoices {
		labels = append(labels, c.Label)
	}
	labels = append(labels, LabelCancel)
	return models.ChoicesAction(MsgPeriodPrompt, labels...)
}

func (e *Engine) matchPeriod(input string) (PeriodChoice, bool) {
	for _, c := range e.periodChoices {
		if strings.EqualFold(c.Label, input) {
			return c, true
		}
	}
	return PeriodChoice{}, false
}

// matchVehicle finds a vehicle by exact name, then case-insensitively.
func matchVehicle(catalog models.Catalog, input string) (models.Vehicle, bool) {
	if v, ok := catalog.Get(input); ok {
		return v, true
	}
	for _, v := range catalog.Vehicles() {
		if strings.EqualFold(v.Name, input) {
			return v, true
		}
	}
	return models.Vehicle{}, false
}

// resolveOffered maps a numeric reply to the label at that position of the last offered choices.
func resolveOffered(offered []string, input string) string {
	if len(offered) == 0 {
		return input
	}
	n, err := strconv.Atoi(input)
	if err != nil || n < 1 || n > len(offered) {
		return input
	}
	return offered[n-1]
}
