package e2e

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomeworks/tome/pkg/config"
	"github.com/tomeworks/tome/pkg/llm"
	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/service"
)

// flakyNotes fails the first failFirst note-synthesis calls and delegates
// everything else to the scripted client.
type flakyNotes struct {
	inner     llm.Client
	failFirst int32
	calls     atomic.Int32
}

func (f *flakyNotes) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	last := req.Messages[len(req.Messages)-1].Content
	if strings.Contains(last, "Write polished research notes") && f.calls.Add(1) <= f.failFirst {
		return nil, errors.New("transient model failure")
	}
	return f.inner.Complete(ctx, req)
}

// Retry sweep: every task's note synthesis fails on its first attempt. The
// tasks are marked failed, the quiescence sweep resets them to pending, and
// the second attempts succeed, so the session still completes with the
// failures recorded in each task's retry count.
func TestRetrySweepRecoversFailedTasks(t *testing.T) {
	client := &flakyNotes{inner: NewScriptedLLM(allRules()...), failFirst: 4}
	app := NewApp(t, client, func(cfg *config.Config) {
		// Four first attempts fail back to back before anything succeeds;
		// the abort threshold must sit above that.
		cfg.Research.MaxConsecutiveFailures = 10
	})
	ctx := context.Background()

	resp, err := app.Service.StartRun(ctx, service.StartRequest{
		Query:    "What is AI safety?",
		Blocking: true,
	})
	require.NoError(t, err)

	sess, err := app.Store.GetSession(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, sess.Status)

	tasks, err := app.Store.ListTasks(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	for _, task := range tasks {
		assert.Equal(t, models.TaskCompleted, task.Status)
		assert.Equal(t, 1, task.RetryCount, "task %q should record its failed first attempt", task.Topic)
		assert.Empty(t, task.ErrorMessage)
	}
}

// Consecutive-failure abort: note synthesis never succeeds. After the
// configured number of consecutive failures the scheduler aborts with a
// warning event instead of burning the whole retry budget, and the session
// finalizes partial_with_errors.
func TestConsecutiveFailuresAbort(t *testing.T) {
	rules := allRules(Rule{
		Match: "Write polished research notes",
		Err:   errors.New("model endpoint unreachable"),
	})
	app := NewApp(t, NewScriptedLLM(rules...), func(cfg *config.Config) {
		cfg.Research.MaxConsecutiveFailures = 3
		cfg.Research.MaxRetries = 10
	})
	ctx := context.Background()

	resp, err := app.Service.StartRun(ctx, service.StartRequest{
		Query:    "What is AI safety?",
		Blocking: true,
	})
	require.NoError(t, err)

	sess, err := app.Store.GetSession(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartialWithErrors, sess.Status)

	counts, err := app.Store.CountTasks(ctx, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, counts.Completed)
	assert.GreaterOrEqual(t, counts.Failed, 3)
	assert.GreaterOrEqual(t, counts.Pending, 1)
	assert.Zero(t, counts.InProgress)

	page, err := app.Store.EventsAfter(ctx, sess.ID, "", 500)
	require.NoError(t, err)
	var sawAbort bool
	for _, ev := range page.Events {
		if ev.Severity != "warning" {
			continue
		}
		if data, ok := ev.Payload["data"].(string); ok && strings.Contains(data, "consecutive task failures") {
			sawAbort = true
		}
	}
	assert.True(t, sawAbort, "expected a scheduler abort warning event")
}
