package bundle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cobaltlabs/conductor/pkg/errors"
)

// LinkType describes how two coupled services exchange data.
type LinkType string

// LinkRealtime is the default link type: a real-time channel capable of
// bidirectional exchange.
const LinkRealtime LinkType = "realtime"

// Link connects one service's output to another's input.
type Link struct {
	ID   string   `json:"id"`
	From string   `json:"from"`
	To   string   `json:"to"`
	Type LinkType `json:"type"`
}

// Pipeline is a linear chain of coupled services. Composing anything other
// than a straight chain requires building links manually.
type Pipeline struct {
	orchestrator *Orchestrator
	ids          []string
	links        []Link
}

// Couple wires the given instances into a sequential pipeline: N-1 links
// where each service's output feeds the next service's input. At least two
// instances are required and all must exist.
func (o *Orchestrator) Couple(instanceIDs ...string) (*Pipeline, error) {
	if len(instanceIDs) < 2 {
		return nil, errors.NewBundleError(errors.BundleErrPipeline,
			fmt.Sprintf("coupling requires at least 2 services, got %d", len(instanceIDs)), nil)
	}

	o.mu.RLock()
	for _, id := range instanceIDs {
		if _, ok := o.instances[id]; !ok {
			o.mu.RUnlock()
			return nil, errors.NewBundleError(errors.BundleErrInstanceNotFound,
				fmt.Sprintf("instance %q is not registered", id), nil)
		}
	}
	o.mu.RUnlock()

	links := make([]Link, 0, len(instanceIDs)-1)
	for i := 0; i < len(instanceIDs)-1; i++ {
		links = append(links, Link{
			ID:   uuid.NewString(),
			From: instanceIDs[i],
			To:   instanceIDs[i+1],
			Type: LinkRealtime,
		})
	}

	o.logger.Info("services coupled", "services", len(instanceIDs), "links", len(links))
	return &Pipeline{orchestrator: o, ids: append([]string(nil), instanceIDs...), links: links}, nil
}

// Links returns the pipeline's links in chain order.
func (p *Pipeline) Links() []Link {
	out := make([]Link, len(p.links))
	copy(out, p.links)
	return out
}

// Run pushes input through the chain: each service is called on endpoint and
// its output becomes the next service's input. The final output is returned.
func (p *Pipeline) Run(ctx context.Context, endpoint string, input interface{}) (interface{}, error) {
	data := input
	for _, id := range p.ids {
		out, err := p.orchestrator.Call(ctx, id, endpoint, data)
		if err != nil {
			return nil, errors.NewBundleError(errors.BundleErrPipeline,
				fmt.Sprintf("pipeline stage %q failed", id), err)
		}
		data = out
	}
	return data, nil
}
