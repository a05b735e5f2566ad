package bundle

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltlabs/conductor/pkg/errors"
)

// pipelineFixture registers and starts a worker bundle whose handlers append
// their stage name to the payload.
func pipelineFixture(t *testing.T, stages ...string) (*Orchestrator, []string) {
	t.Helper()

	o := NewOrchestrator(Options{})
	schemas := make([]ServiceSchema, 0, len(stages))
	for _, stage := range stages {
		stage := stage
		o.Workers().RegisterHandler(stage, func(ctx context.Context, endpoint string, payload interface{}) (interface{}, error) {
			return fmt.Sprintf("%v->%s", payload, stage), nil
		})
		schemas = append(schemas, ServiceSchema{Name: stage, Kind: KindWorker, Endpoints: []string{"process"}})
	}

	require.NoError(t, o.RegisterBundle(context.Background(), "line", schemas, Config{}))
	require.NoError(t, o.StartBundle(context.Background(), "line"))

	ids := make([]string, 0, len(stages))
	for _, stage := range stages {
		id, err := o.InstanceID("line", stage)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return o, ids
}

func TestCouple_RequiresTwoInstances(t *testing.T) {
	t.Parallel()

	o, ids := pipelineFixture(t, "extract")
	_, err := o.Couple(ids[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2")

	_, err = o.Couple()
	require.Error(t, err)
}

func TestCouple_UnknownInstance(t *testing.T) {
	t.Parallel()

	o, ids := pipelineFixture(t, "extract")
	_, err := o.Couple(ids[0], "no-such-id")
	var domainErr *errors.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, errors.BundleErrInstanceNotFound, domainErr.Code)
}

func TestCouple_LinkShape(t *testing.T) {
	t.Parallel()

	o, ids := pipelineFixture(t, "extract", "transform", "load")
	p, err := o.Couple(ids...)
	require.NoError(t, err)

	links := p.Links()
	require.Len(t, links, 2)
	assert.Equal(t, ids[0], links[0].From)
	assert.Equal(t, ids[1], links[0].To)
	assert.Equal(t, ids[1], links[1].From)
	assert.Equal(t, ids[2], links[1].To)
	for _, link := range links {
		assert.NotEmpty(t, link.ID)
		assert.Equal(t, LinkRealtime, link.Type)
	}
}

func TestPipeline_RunChainsOutputs(t *testing.T) {
	t.Parallel()

	o, ids := pipelineFixture(t, "extract", "transform", "load")
	p, err := o.Couple(ids...)
	require.NoError(t, err)

	out, err := p.Run(context.Background(), "process", "raw")
	require.NoError(t, err)
	assert.Equal(t, "raw->extract->transform->load", out)
}

func TestPipeline_RunStageFailure(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(Options{})
	o.Workers().RegisterHandler("ok", func(ctx context.Context, endpoint string, payload interface{}) (interface{}, error) {
		return payload, nil
	})
	o.Workers().RegisterHandler("broken", func(ctx context.Context, endpoint string, payload interface{}) (interface{}, error) {
		return nil, fmt.Errorf("stage blew up")
	})

	schemas := []ServiceSchema{
		{Name: "ok", Kind: KindWorker, Endpoints: []string{"process"}},
		{Name: "broken", Kind: KindWorker, Endpoints: []string{"process"}},
	}
	require.NoError(t, o.RegisterBundle(context.Background(), "line", schemas, Config{}))
	require.NoError(t, o.StartBundle(context.Background(), "line"))

	okID, err := o.InstanceID("line", "ok")
	require.NoError(t, err)
	brokenID, err := o.InstanceID("line", "broken")
	require.NoError(t, err)

	p, err := o.Couple(okID, brokenID)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), "process", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage blew up")
	var domainErr *errors.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, errors.BundleErrPipeline, domainErr.Code)
}

func TestPipeline_RunStoppedInstanceFails(t *testing.T) {
	t.Parallel()

	o, ids := pipelineFixture(t, "extract", "load")
	p, err := o.Couple(ids...)
	require.NoError(t, err)

	require.NoError(t, o.StopBundle(context.Background(), "line"))

	_, err = p.Run(context.Background(), "process", "raw")
	require.Error(t, err)
}
