/*
Copyright 2022-2025 The nagare media authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/nagare-media/vod/internal/uuid"
	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/event"
	"github.com/nagare-media/vod/pkg/function"
)

const DefaultTimeout = 5 * time.Second

// notify posts every app event as a CloudEvent to a configured sink.
type notify struct {
	cfg v1alpha1.Function
}

func New(cfg v1alpha1.Function) (function.Function, error) {
	if err := function.CheckAndSetDefaults(&cfg); err != nil {
		return nil, err
	}

	if cfg.Notify.Timeout <= 0 {
		cfg.Notify.Timeout = DefaultTimeout
	}

	return &notify{cfg: cfg}, nil
}

func (fn *notify) Config() v1alpha1.Function {
	return fn.cfg
}

func (fn *notify) Exec(ctx context.Context, execCtx function.ExecCtx) error {
	log := execCtx.Logger()

	if _, err := url.Parse(fn.cfg.Notify.URL); err != nil {
		return fmt.Errorf("failed to parse notification URL: %w", err)
	}

	events := execCtx.App().EventStream().Sub()
	defer execCtx.App().EventStream().Desub(events)

	for {
		select {
		case <-ctx.Done():
			return nil

		case e := <-events:
			if err := fn.send(ctx, e); err != nil {
				log.With("error", err).Error("sending cloud event failed")
			}
		}
	}
}

// send delivers e to the sink in structured content mode.
func (fn *notify) send(ctx context.Context, e event.Event) error {
	ce, err := wrapEvent(e)
	if err != nil {
		return err
	}

	body, err := json.Marshal(ce)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, fn.cfg.Notify.Timeout)
	defer cancel()

	// TODO: implement retries with exp backoff?
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fn.cfg.Notify.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", cloudevents.ApplicationCloudEventsJSON)

	// TODO: allow to configure the client?
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode > 299 {
		return fmt.Errorf("unexpected HTTP status code in response: %d", resp.StatusCode)
	}

	return nil
}

func wrapEvent(e event.Event) (*cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.UUIDv4())
	ce.SetTime(time.Now())
	ce.SetSource("/vod.nagare.media/function/notify")
	ce.SetType(fmt.Sprintf("media.nagare.vod.%T", e))
	// TODO: better support for cloud event subject
	if err := ce.SetData(cloudevents.ApplicationJSON, e); err != nil {
		return nil, err
	}
	return &ce, nil
}
