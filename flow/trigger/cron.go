package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dshills/flowrun-go/flow"
)

// CronTrigger schedules workflow executions from cron expressions.
//
// Each registered workflow holds at most one pending single-shot timer.
// When it fires, the trigger submits an execution and re-arms for the
// next fire time regardless of the execution's outcome. Missed fires
// are not backfilled: re-arming computes the next fire strictly after
// Clock.Now().
//
// Registration is idempotent; re-registering a workflow cancels its
// prior timer. A cron expression that fails to parse is logged and the
// workflow is abandoned; other registrations continue.
type CronTrigger struct {
	submitter Submitter
	workflows flow.WorkflowStore
	clock     flow.Clock
	log       zerolog.Logger
	parser    cron.Parser

	mu      sync.Mutex
	entries map[string]*cronEntry
	stopped bool

	cancelWatch func()
}

// cronEntry is one workflow's schedule. gen guards against stale timer
// callbacks re-arming after an unregister or re-register.
type cronEntry struct {
	gen        int
	timer      *time.Timer
	schedule   cron.Schedule
	expression string
	name       string
}

// NewCronTrigger creates a cron trigger. Nothing is scheduled until
// Start or Register is called.
func NewCronTrigger(submitter Submitter, workflows flow.WorkflowStore, clock flow.Clock, log zerolog.Logger) *CronTrigger {
	return &CronTrigger{
		submitter: submitter,
		workflows: workflows,
		clock:     clock,
		log:       log.With().Str("component", "cron-trigger").Logger(),
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries:   make(map[string]*cronEntry),
	}
}

// Start registers every active scheduled workflow and subscribes to the
// store's change feed so registrations track workflow edits.
func (t *CronTrigger) Start(ctx context.Context) error {
	scheduled, err := t.workflows.FindActiveScheduled(ctx)
	if err != nil {
		return err
	}
	for _, w := range scheduled {
		t.Register(w)
	}

	t.cancelWatch = watchWorkflowEvents(ctx, t.workflows, t.onWorkflowChange, func(id string) {
		t.Unregister(id)
	})
	return nil
}

// onWorkflowChange re-registers a changed workflow if it still qualifies
// for scheduling, otherwise drops it.
func (t *CronTrigger) onWorkflowChange(w *flow.Workflow) {
	if w.Active && w.TriggerType == flow.TriggerSchedule && w.CronExpression != "" {
		t.Register(w)
		return
	}
	t.Unregister(w.ID)
}

// Register schedules the workflow's next fire. A parse error is logged
// and the workflow abandoned. Calling Register twice in a row leaves
// exactly one pending timer.
func (t *CronTrigger) Register(w *flow.Workflow) {
	schedule, err := t.parser.Parse(w.CronExpression)
	if err != nil {
		t.log.Warn().
			Str("workflowId", w.ID).
			Str("cronExpression", w.CronExpression).
			Err(err).
			Msg("invalid cron expression, workflow abandoned")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	entry := t.entries[w.ID]
	if entry != nil {
		entry.timer.Stop()
	} else {
		entry = &cronEntry{}
		t.entries[w.ID] = entry
	}
	entry.gen++
	entry.schedule = schedule
	entry.expression = w.CronExpression
	entry.name = w.Name

	t.armLocked(w.ID, entry)

	t.log.Info().
		Str("workflowId", w.ID).
		Str("cronExpression", w.CronExpression).
		Msg("workflow scheduled")
}

// armLocked schedules the next fire strictly after now. Caller holds mu.
func (t *CronTrigger) armLocked(workflowID string, entry *cronEntry) {
	now := t.clock.Now()
	next := entry.schedule.Next(now)
	if next.IsZero() {
		t.log.Warn().Str("workflowId", workflowID).Msg("cron schedule has no next fire time")
		delete(t.entries, workflowID)
		return
	}

	gen := entry.gen
	entry.timer = time.AfterFunc(next.Sub(now), func() {
		t.fire(workflowID, gen)
	})
}

// fire submits one execution and re-arms. The generation check makes
// callbacks from cancelled timers a no-op, so unregister and re-register
// never produce extra fires.
func (t *CronTrigger) fire(workflowID string, gen int) {
	t.mu.Lock()
	entry := t.entries[workflowID]
	if entry == nil || entry.gen != gen || t.stopped {
		t.mu.Unlock()
		return
	}
	expression := entry.expression
	t.mu.Unlock()

	input := map[string]any{
		"triggeredAt":       t.clock.Now().Format(time.RFC3339Nano),
		flow.KeyTriggerType: "schedule",
		"cronExpression":    expression,
	}

	future := t.submitter.ExecuteAsync(context.Background(), workflowID, input)
	go func() {
		if _, err := future.Wait(context.Background()); err != nil {
			t.log.Error().Str("workflowId", workflowID).Err(err).Msg("scheduled submission failed")
		}
	}()

	// Execution outcome never stops scheduling.
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry := t.entries[workflowID]; entry != nil && entry.gen == gen && !t.stopped {
		t.armLocked(workflowID, entry)
	}
}

// Unregister cancels the workflow's pending timer and reports whether a
// registration existed.
func (t *CronTrigger) Unregister(workflowID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[workflowID]
	if !ok {
		return false
	}
	entry.timer.Stop()
	entry.gen++
	delete(t.entries, workflowID)

	t.log.Info().Str("workflowId", workflowID).Msg("workflow unscheduled")
	return true
}

// Registered returns the IDs of currently scheduled workflows.
func (t *CronTrigger) Registered() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	return ids
}

// Stop cancels all timers and the store subscription. The trigger cannot
// be restarted.
func (t *CronTrigger) Stop() {
	t.mu.Lock()
	t.stopped = true
	for id, entry := range t.entries {
		entry.timer.Stop()
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if t.cancelWatch != nil {
		t.cancelWatch()
	}
}
