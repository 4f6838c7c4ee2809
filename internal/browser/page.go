package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/shubh-37/x-autoposter/internal/posting"
)

var (
	_ posting.Page    = (*Page)(nil)
	_ posting.Element = (*Element)(nil)
)

// Page adapts a rod page to posting.Page.
type Page struct {
	page   *rod.Page
	owner  *rod.Browser
	navTO  time.Duration
	logger *zap.Logger

	closeOnce sync.Once
}

func (p *Page) Navigate(ctx context.Context, target string) error {
	pg := p.page.Context(ctx).Timeout(p.navTO)
	if err := pg.Navigate(target); err != nil {
		return fmt.Errorf("navigate to %s: %w", target, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait for %s to load: %w", target, err)
	}
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	pg := p.page.Context(ctx).Timeout(p.navTO)
	if err := pg.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return pg.WaitLoad()
}

func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("read page url: %w", err)
	}
	return info.URL, nil
}

func (p *Page) Find(ctx context.Context, selector string, timeout time.Duration) (posting.Element, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return nil, fmt.Errorf("wait for %q to be visible: %w", selector, err)
	}
	return &Element{el: el.Context(context.Background())}, nil
}

func (p *Page) FindAll(ctx context.Context, selector string) ([]posting.Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("find all %q: %w", selector, err)
	}
	out := make([]posting.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &Element{el: el.Context(context.Background())})
	}
	return out, nil
}

func (p *Page) Shortcut(ctx context.Context, chord string) error {
	mods, key, err := parseChord(chord)
	if err != nil {
		return err
	}
	actions := p.page.Context(ctx).KeyActions()
	if len(mods) > 0 {
		actions = actions.Press(mods...)
	}
	actions = actions.Type(key)
	if len(mods) > 0 {
		actions = actions.Release(mods...)
	}
	if err := actions.Do(); err != nil {
		return fmt.Errorf("press %s: %w", chord, err)
	}
	return nil
}

// WatchResponses enables network tracking and forwards the bodies of
// matching responses once they finish loading. The channel closes after stop
// is called or ctx ends.
func (p *Page) WatchResponses(ctx context.Context, urlFragments []string) (<-chan posting.Response, func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)
	pg := p.page.Context(watchCtx)

	if err := (proto.NetworkEnable{}).Call(pg); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("enable network events: %w", err)
	}

	out := make(chan posting.Response, 16)
	pending := map[proto.NetworkRequestID]posting.Response{}

	wait := pg.EachEvent(
		func(ev *proto.NetworkResponseReceived) {
			if ev.Response == nil || !matchesAny(ev.Response.URL, urlFragments) {
				return
			}
			pending[ev.RequestID] = posting.Response{URL: ev.Response.URL, Status: ev.Response.Status}
		},
		func(ev *proto.NetworkLoadingFinished) {
			resp, ok := pending[ev.RequestID]
			if !ok {
				return
			}
			delete(pending, ev.RequestID)

			body, err := proto.NetworkGetResponseBody{RequestID: ev.RequestID}.Call(pg)
			if err != nil {
				p.logger.Debug("response body unavailable", zap.String("url", resp.URL), zap.Error(err))
				return
			}
			resp.Body = []byte(body.Body)
			if body.Base64Encoded {
				if decoded, err := base64.StdEncoding.DecodeString(body.Body); err == nil {
					resp.Body = decoded
				}
			}

			select {
			case out <- resp:
			case <-watchCtx.Done():
			}
		},
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		wait()
	}()

	stop := func() {
		cancel()
		<-done
	}
	return out, stop, nil
}

func (p *Page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.page.Close()
		if p.owner != nil {
			if cerr := p.owner.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

func matchesAny(u string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(u, f) {
			return true
		}
	}
	return false
}

var chordKeys = map[string]input.Key{
	"control":   input.ControlLeft,
	"ctrl":      input.ControlLeft,
	"meta":      input.MetaLeft,
	"cmd":       input.MetaLeft,
	"shift":     input.ShiftLeft,
	"alt":       input.AltLeft,
	"enter":     input.Enter,
	"escape":    input.Escape,
	"tab":       input.Tab,
	"backspace": input.Backspace,
	"a":         input.KeyA,
}

// parseChord splits "Control+Enter" into held modifiers and the typed key.
func parseChord(chord string) ([]input.Key, input.Key, error) {
	parts := strings.Split(chord, "+")
	keys := make([]input.Key, 0, len(parts))
	for _, part := range parts {
		k, ok := chordKeys[strings.ToLower(strings.TrimSpace(part))]
		if !ok {
			return nil, 0, fmt.Errorf("unsupported key %q in chord %q", part, chord)
		}
		keys = append(keys, k)
	}
	return keys[:len(keys)-1], keys[len(keys)-1], nil
}

// Element adapts a rod element to posting.Element.
type Element struct {
	el *rod.Element
}

func (e *Element) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

// Clear empties inputs and contenteditable composers alike.
func (e *Element) Clear(ctx context.Context) error {
	el := e.el.Context(ctx)
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("select text: %w", err)
	}
	return el.Page().Context(ctx).KeyActions().Type(input.Backspace).Do()
}

// Type inserts text at the caret, which works for contenteditable
// composers where value-based input does not.
func (e *Element) Type(ctx context.Context, text string) error {
	el := e.el.Context(ctx)
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	return el.Page().Context(ctx).InsertText(text)
}

func (e *Element) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

// Attribute returns "" for an attribute the element does not carry.
func (e *Element) Attribute(ctx context.Context, name string) (string, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}
