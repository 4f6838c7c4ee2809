package posting

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

var errNotFound = errors.New("element not found")

type fakePost struct {
	ID      string
	Text    string
	ReplyTo string
}

// fakeSurface simulates the target web client closely enough to drive the
// composer, extractor and strategies end to end.
type fakeSurface struct {
	mu      sync.Mutex
	profile SurfaceProfile
	nextID  int64
	posts   []fakePost
	submits int
	pages   []*fakePage

	failSubmitAt  int // 1-based submission whose controls are unusable
	addCardFails  bool
	noFocus       bool
	garbleText    bool
	silentNetwork bool
	urlOnSubmit   bool
	hangFind      bool
	newPageErr    error
	panicOnFind   bool
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		profile: DefaultProfile("https://x.test", "bot"),
		nextID:  1790000000000000001,
	}
}

func (s *fakeSurface) NewPage(ctx context.Context) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.newPageErr != nil {
		return nil, s.newPageErr
	}
	p := &fakePage{s: s}
	s.pages = append(s.pages, p)
	return p, nil
}

// seed adds an existing post authored elsewhere in the past.
func (s *fakeSurface) seed(text, replyTo string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strconv.FormatInt(s.nextID, 10)
	s.nextID++
	s.posts = append(s.posts, fakePost{ID: id, Text: text, ReplyTo: replyTo})
	return id
}

func (s *fakeSurface) published() []fakePost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fakePost(nil), s.posts...)
}

func (s *fakeSurface) post(id string) (fakePost, bool) {
	for _, p := range s.posts {
		if p.ID == id {
			return p, true
		}
	}
	return fakePost{}, false
}

func (s *fakeSurface) allClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pages {
		if !p.closed {
			return false
		}
	}
	return true
}

type fakePage struct {
	s        *fakeSurface
	url      string
	cards    []string
	watchers map[int]chan Response
	nextW    int
	closed   bool
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.url = url
	p.cards = []string{""}
	return nil
}

func (p *fakePage) Reload(ctx context.Context) error {
	return p.Navigate(ctx, p.url)
}

func (p *fakePage) CurrentURL(ctx context.Context) (string, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Find(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	p.s.mu.Lock()
	hang, panicky := p.s.hangFind, p.s.panicOnFind
	p.s.mu.Unlock()
	if panicky {
		panic("selector engine crashed")
	}
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	prof := p.s.profile

	var idx int
	if _, err := fmt.Sscanf(selector, prof.CardBoxFormat, &idx); err == nil && selector == prof.CardBox(idx) {
		if p.s.noFocus || idx >= len(p.cards) {
			return nil, errNotFound
		}
		return &fakeElement{page: p, kind: "card", idx: idx}, nil
	}

	switch selector {
	case prof.SubmitButtons[0].Selector, prof.ReplySubmit[0].Selector:
		if p.s.submits+1 == p.s.failSubmitAt {
			return nil, errNotFound
		}
		return &fakeElement{page: p, kind: "submit"}, nil
	case prof.AddCard[0].Selector:
		if p.s.addCardFails {
			return nil, errNotFound
		}
		return &fakeElement{page: p, kind: "add"}, nil
	}
	return nil, errNotFound
}

func (p *fakePage) FindAll(ctx context.Context, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	prof := p.s.profile
	current := prof.IDFromURL(p.url)

	switch {
	case selector == prof.CardBoxes:
		out := make([]Element, len(p.cards))
		for i := range p.cards {
			out[i] = &fakeElement{page: p, kind: "card", idx: i}
		}
		return out, nil

	case selector == prof.TimelinePostLinks && p.url == prof.ProfileURL():
		var out []Element
		for i := len(p.s.posts) - 1; i >= 0; i-- {
			out = append(out, &fakeElement{kind: "link", href: "/bot/status/" + p.s.posts[i].ID})
		}
		return out, nil

	case selector == prof.TimelinePostLinks && current != "":
		var chain []string
		for id := current; id != ""; {
			post, ok := p.s.post(id)
			if !ok {
				break
			}
			chain = append([]string{id}, chain...)
			id = post.ReplyTo
		}
		var out []Element
		for _, id := range chain {
			out = append(out, &fakeElement{kind: "link", href: "/bot/status/" + id})
		}
		return out, nil

	case selector == prof.PostText && current != "":
		if post, ok := p.s.post(current); ok {
			return []Element{&fakeElement{kind: "text", text: post.Text}}, nil
		}
		return nil, nil
	}

	if current != "" {
		if post, ok := p.s.post(current); ok && post.ReplyTo != "" && selector == fmt.Sprintf(prof.ParentReference, post.ReplyTo) {
			return []Element{&fakeElement{kind: "link", href: "/bot/status/" + post.ReplyTo}}, nil
		}
	}
	return nil, nil
}

func (p *fakePage) Shortcut(ctx context.Context, chord string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if p.s.submits+1 == p.s.failSubmitAt {
		return errors.New("shortcut ignored")
	}
	p.submitLocked()
	return nil
}

func (p *fakePage) WatchResponses(ctx context.Context, fragments []string) (<-chan Response, func(), error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if p.watchers == nil {
		p.watchers = make(map[int]chan Response)
	}
	ch := make(chan Response, 16)
	id := p.nextW
	p.nextW++
	p.watchers[id] = ch
	var once sync.Once
	stop := func() {
		once.Do(func() {
			p.s.mu.Lock()
			delete(p.watchers, id)
			p.s.mu.Unlock()
		})
	}
	return ch, stop, nil
}

func (p *fakePage) Close() error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.closed = true
	return nil
}

// submitLocked publishes every card. Callers hold p.s.mu.
func (p *fakePage) submitLocked() {
	s := p.s
	s.submits++
	replyTo := s.profile.IDFromURL(p.url)
	var last string
	for _, text := range p.cards {
		id := strconv.FormatInt(s.nextID, 10)
		s.nextID++
		s.posts = append(s.posts, fakePost{ID: id, Text: text, ReplyTo: replyTo})
		replyTo, last = id, id
		if !s.silentNetwork {
			body := fmt.Sprintf(`{"data":{"create_tweet":{"tweet_results":{"result":{"rest_id":%q}}}}}`, id)
			for _, w := range p.watchers {
				select {
				case w <- Response{URL: "https://x.test/i/api/graphql/abc/CreateTweet", Status: 200, Body: []byte(body)}:
				default:
				}
			}
		}
	}
	if s.urlOnSubmit && s.profile.IDFromURL(p.url) == "" {
		p.url = s.profile.StatusURL(last)
	}
	p.cards = []string{""}
}

type fakeElement struct {
	page *fakePage
	kind string
	idx  int
	href string
	text string
}

func (e *fakeElement) Click(ctx context.Context) error {
	if e.page == nil {
		return nil
	}
	e.page.s.mu.Lock()
	defer e.page.s.mu.Unlock()
	switch e.kind {
	case "submit":
		e.page.submitLocked()
	case "add":
		e.page.cards = append(e.page.cards, "")
	}
	return nil
}

func (e *fakeElement) Clear(ctx context.Context) error {
	e.page.s.mu.Lock()
	defer e.page.s.mu.Unlock()
	if e.idx < len(e.page.cards) {
		e.page.cards[e.idx] = ""
	}
	return nil
}

func (e *fakeElement) Type(ctx context.Context, text string) error {
	e.page.s.mu.Lock()
	defer e.page.s.mu.Unlock()
	if e.idx >= len(e.page.cards) {
		return errNotFound
	}
	if e.page.s.garbleText {
		text = "zz"
	}
	e.page.cards[e.idx] += text
	return nil
}

func (e *fakeElement) Text(ctx context.Context) (string, error) {
	if e.kind != "card" {
		return e.text, nil
	}
	e.page.s.mu.Lock()
	defer e.page.s.mu.Unlock()
	if e.idx >= len(e.page.cards) {
		return "", errNotFound
	}
	return e.page.cards[e.idx], nil
}

func (e *fakeElement) Attribute(ctx context.Context, name string) (string, error) {
	if name == "href" && e.href != "" {
		return e.href, nil
	}
	return "", errNotFound
}

// fakeDirect is an in-memory HTTP channel.
type fakeDirect struct {
	mu     sync.Mutex
	nextID int64
	calls  []fakePost
	failAt int
	err    error
}

func (d *fakeDirect) CreatePost(ctx context.Context, text, replyToID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.calls)+1 == d.failAt {
		return "", d.err
	}
	if d.nextID == 0 {
		d.nextID = 1890000000000000001
	}
	id := strconv.FormatInt(d.nextID, 10)
	d.nextID++
	d.calls = append(d.calls, fakePost{ID: id, Text: text, ReplyTo: replyToID})
	return id, nil
}
