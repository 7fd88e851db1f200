// Package dispatcher is the typed façade over the Action Link: one method
// per action kind, payload validation before transmission, and a distinct
// surfaced kind for timeout vs. transport/action error.
package dispatcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/browserlane/taskengine/internal/domain/entity"
)

// caller is the subset of actionlink.Link the dispatcher depends on.
type caller interface {
	Call(ctx context.Context, action entity.ActionKind, payload map[string]any) (*entity.Result, error)
}

// Config configures payload validation policy.
type Config struct {
	// ForbiddenSchemes are URL schemes the dispatcher refuses to navigate
	// to, checked before the envelope is ever built. Extensible by the
	// operator beyond the four built-in defaults.
	ForbiddenSchemes []string
}

// DefaultForbiddenSchemes are the browser-internal schemes rejected out of
// the box: navigation there can reconfigure or escape the agent's browser.
func DefaultForbiddenSchemes() []string {
	return []string{"chrome://", "edge://", "about:", "chrome-extension://"}
}

// Dispatcher is the typed façade exposing one operation per action kind.
type Dispatcher struct {
	link   caller
	cfg    Config
	logger *zap.Logger
}

// New creates a Dispatcher over the given Action Link.
func New(link caller, cfg Config, logger *zap.Logger) *Dispatcher {
	if len(cfg.ForbiddenSchemes) == 0 {
		cfg.ForbiddenSchemes = DefaultForbiddenSchemes()
	}
	return &Dispatcher{link: link, cfg: cfg, logger: logger.With(zap.String("component", "dispatcher"))}
}

func (d *Dispatcher) invoke(ctx context.Context, action entity.ActionKind, payload map[string]any) (*entity.Result, error) {
	res, err := d.link.Call(ctx, action, payload)
	if err != nil {
		return nil, err
	}
	if res.Status == entity.ResultError {
		return res, entity.NewEngineError(entity.ErrKindAction, res.Error, nil)
	}
	return res, nil
}

// Navigate requires a syntactically valid, non-forbidden absolute URL.
// The dispatcher is the authoritative gate: forbidden navigation fails
// locally before ever reaching the agent.
func (d *Dispatcher) Navigate(ctx context.Context, rawURL string) (*entity.Result, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("navigate: url required")
	}
	for _, scheme := range d.cfg.ForbiddenSchemes {
		if strings.HasPrefix(rawURL, scheme) {
			return nil, entity.ErrForbiddenTarget
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("navigate: invalid absolute url %q", rawURL)
	}
	return d.invoke(ctx, entity.ActionNavigate, map[string]any{"url": rawURL})
}

// WaitFor requires a selector; timeout_ms defaults to 5000.
func (d *Dispatcher) WaitFor(ctx context.Context, selector string, timeoutMs int) (*entity.Result, error) {
	if selector == "" {
		return nil, fmt.Errorf("waitFor: selector required")
	}
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	return d.invoke(ctx, entity.ActionWaitFor, map[string]any{"selector": selector, "timeout_ms": timeoutMs})
}

// Click requires a selector.
func (d *Dispatcher) Click(ctx context.Context, selector string) (*entity.Result, error) {
	if selector == "" {
		return nil, fmt.Errorf("click: selector required")
	}
	return d.invoke(ctx, entity.ActionClick, map[string]any{"selector": selector})
}

// Type requires a selector; text may be empty.
func (d *Dispatcher) Type(ctx context.Context, selector, text string) (*entity.Result, error) {
	if selector == "" {
		return nil, fmt.Errorf("type: selector required")
	}
	return d.invoke(ctx, entity.ActionType, map[string]any{"selector": selector, "text": text})
}

// Press requires a key.
func (d *Dispatcher) Press(ctx context.Context, key string) (*entity.Result, error) {
	if key == "" {
		return nil, fmt.Errorf("press: key required")
	}
	return d.invoke(ctx, entity.ActionPress, map[string]any{"key": key})
}

// Query requires a selector; limit defaults to 500.
func (d *Dispatcher) Query(ctx context.Context, selector string, limit int) (*entity.Result, error) {
	if selector == "" {
		return nil, fmt.Errorf("query: selector required")
	}
	if limit <= 0 {
		limit = 500
	}
	return d.invoke(ctx, entity.ActionQuery, map[string]any{"selector": selector, "limit": limit})
}

// GetPageInfo takes no payload.
func (d *Dispatcher) GetPageInfo(ctx context.Context) (*entity.Result, error) {
	return d.invoke(ctx, entity.ActionGetPageInfo, nil)
}

// GetInteractiveElements takes no payload.
func (d *Dispatcher) GetInteractiveElements(ctx context.Context) (*entity.Result, error) {
	return d.invoke(ctx, entity.ActionGetInteractiveElements, nil)
}

// SmartClickLocator carries the alternative locator fields; at least one
// must be set.
type SmartClickLocator struct {
	Selector    string
	ID          string
	Name        string
	AriaLabel   string
	Role        string
	Text        string
	Description string
}

func (l SmartClickLocator) empty() bool {
	return l.Selector == "" && l.ID == "" && l.Name == "" && l.AriaLabel == "" &&
		l.Role == "" && l.Text == "" && l.Description == ""
}

// SmartClick requires at least one of the locator fields.
func (d *Dispatcher) SmartClick(ctx context.Context, locator SmartClickLocator) (*entity.Result, error) {
	if locator.empty() {
		return nil, fmt.Errorf("smartClick: at least one locator field required")
	}
	payload := map[string]any{}
	if locator.Selector != "" {
		payload["selector"] = locator.Selector
	}
	if locator.ID != "" {
		payload["id"] = locator.ID
	}
	if locator.Name != "" {
		payload["name"] = locator.Name
	}
	if locator.AriaLabel != "" {
		payload["ariaLabel"] = locator.AriaLabel
	}
	if locator.Role != "" {
		payload["role"] = locator.Role
	}
	if locator.Text != "" {
		payload["text"] = locator.Text
	}
	if locator.Description != "" {
		payload["description"] = locator.Description
	}
	return d.invoke(ctx, entity.ActionSmartClick, payload)
}

// SmartType requires text; selector is optional.
func (d *Dispatcher) SmartType(ctx context.Context, text, selector string) (*entity.Result, error) {
	if text == "" {
		return nil, fmt.Errorf("smartType: text required")
	}
	payload := map[string]any{"text": text}
	if selector != "" {
		payload["selector"] = selector
	}
	return d.invoke(ctx, entity.ActionSmartType, payload)
}

// SwitchTab requires an integer index.
func (d *Dispatcher) SwitchTab(ctx context.Context, index int) (*entity.Result, error) {
	return d.invoke(ctx, entity.ActionSwitchTab, map[string]any{"index": index})
}

// Download requires a url.
func (d *Dispatcher) Download(ctx context.Context, rawURL string) (*entity.Result, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("download: url required")
	}
	return d.invoke(ctx, entity.ActionDownload, map[string]any{"url": rawURL})
}

// UploadFile takes an optional selector.
func (d *Dispatcher) UploadFile(ctx context.Context, selector string) (*entity.Result, error) {
	payload := map[string]any{}
	if selector != "" {
		payload["selector"] = selector
	}
	return d.invoke(ctx, entity.ActionUploadFile, payload)
}

// CaptureScreenshot takes no payload; result data is a base64 PNG string.
func (d *Dispatcher) CaptureScreenshot(ctx context.Context) (*entity.Result, error) {
	return d.invoke(ctx, entity.ActionCaptureScreenshot, nil)
}

// Invoke dispatches a dynamically-kinded action produced by the planner,
// validating the kind against the known set and delegating to the typed
// method for payload validation.
func (d *Dispatcher) Invoke(ctx context.Context, action entity.ActionKind, payload map[string]any) (*entity.Result, error) {
	if !entity.KnownActionKinds[action] {
		return nil, entity.ErrUnknownAction
	}

	switch action {
	case entity.ActionNavigate:
		return d.Navigate(ctx, stringField(payload, "url"))
	case entity.ActionWaitFor:
		return d.WaitFor(ctx, stringField(payload, "selector"), intField(payload, "timeout_ms"))
	case entity.ActionClick:
		return d.Click(ctx, stringField(payload, "selector"))
	case entity.ActionType:
		return d.Type(ctx, stringField(payload, "selector"), stringField(payload, "text"))
	case entity.ActionPress:
		return d.Press(ctx, stringField(payload, "key"))
	case entity.ActionQuery:
		return d.Query(ctx, stringField(payload, "selector"), intField(payload, "limit"))
	case entity.ActionGetPageInfo:
		return d.GetPageInfo(ctx)
	case entity.ActionGetInteractiveElements:
		return d.GetInteractiveElements(ctx)
	case entity.ActionSmartClick:
		return d.SmartClick(ctx, SmartClickLocator{
			Selector:    stringField(payload, "selector"),
			ID:          stringField(payload, "id"),
			Name:        stringField(payload, "name"),
			AriaLabel:   stringField(payload, "ariaLabel"),
			Role:        stringField(payload, "role"),
			Text:        stringField(payload, "text"),
			Description: stringField(payload, "description"),
		})
	case entity.ActionSmartType:
		return d.SmartType(ctx, stringField(payload, "text"), stringField(payload, "selector"))
	case entity.ActionSwitchTab:
		return d.SwitchTab(ctx, intField(payload, "index"))
	case entity.ActionDownload:
		return d.Download(ctx, stringField(payload, "url"))
	case entity.ActionUploadFile:
		return d.UploadFile(ctx, stringField(payload, "selector"))
	case entity.ActionCaptureScreenshot:
		return d.CaptureScreenshot(ctx)
	default:
		return nil, entity.ErrUnknownAction
	}
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func intField(payload map[string]any, key string) int {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
