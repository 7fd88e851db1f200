package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/browserlane/taskengine/internal/domain/entity"
)

const maxObservedElements = 30

// Observer collects page state through the Dispatcher, fanning out the two
// observation sub-calls concurrently and merging their results.
type Observer struct {
	dispatcher *Dispatcher
}

// NewObserver wraps a Dispatcher for observation.
func NewObserver(d *Dispatcher) *Observer {
	return &Observer{dispatcher: d}
}

type pageInfoPayload struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	ReadyState  string `json:"readyState"`
	Diagnostics struct {
		Error string `json:"error"`
	} `json:"diagnostics"`
}

// Observe issues getPageInfo and getInteractiveElements concurrently and
// merges the results. If either sub-call fails, the returned Observation
// carries an empty element list and a non-empty Diagnostics.Error — an
// observation failure never aborts a task by itself.
func (o *Observer) Observe(ctx context.Context) *entity.Observation {
	var wg sync.WaitGroup
	wg.Add(2)

	var (
		pageInfo     pageInfoPayload
		pageInfoErr  error
		elements     []entity.ElementDescriptor
		elementsErr  error
	)

	go func() {
		defer wg.Done()
		res, err := o.dispatcher.GetPageInfo(ctx)
		if err != nil {
			pageInfoErr = err
			return
		}
		pageInfoErr = decodeInto(res.Data, &pageInfo)
	}()

	go func() {
		defer wg.Done()
		res, err := o.dispatcher.GetInteractiveElements(ctx)
		if err != nil {
			elementsErr = err
			return
		}
		elementsErr = decodeInto(res.Data, &elements)
	}()

	wg.Wait()

	obs := &entity.Observation{TakenAt: time.Now()}

	if pageInfoErr != nil {
		obs.Diagnostics.Error = pageInfoErr.Error()
	} else {
		obs.URL = pageInfo.URL
		obs.Title = pageInfo.Title
		obs.ReadyState = pageInfo.ReadyState
		if pageInfo.Diagnostics.Error != "" {
			obs.Diagnostics.Error = pageInfo.Diagnostics.Error
		}
	}

	if elementsErr != nil {
		if obs.Diagnostics.Error == "" {
			obs.Diagnostics.Error = elementsErr.Error()
		}
		obs.Elements = nil
	} else if pageInfoErr == nil {
		if len(elements) > maxObservedElements {
			elements = elements[:maxObservedElements]
		}
		obs.Elements = elements
	}

	return obs
}

func decodeInto(data any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
