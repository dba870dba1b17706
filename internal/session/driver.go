package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/avistalabs/columbus/internal/interfaces"
	"github.com/avistalabs/columbus/internal/logging"
	"github.com/avistalabs/columbus/internal/model"
	"github.com/avistalabs/columbus/internal/platform"
)

// selectors are the per-platform DOM hooks for typing a prompt and pulling
// the answer back out. These track the live sites and need occasional upkeep.
type selectors struct {
	// input matches the prompt composer element.
	input string
	// inputIsValue is true when the composer is a real <textarea>/<input>
	// rather than a contenteditable region.
	inputIsValue bool
	// answer matches the assistant answer container(s); the last match wins.
	answer string
}

var platformSelectors = map[platform.Platform]selectors{
	platform.ChatGPT: {
		input:  `#prompt-textarea`,
		answer: `div[data-message-author-role="assistant"]`,
	},
	platform.Claude: {
		input:  `div[contenteditable="true"].ProseMirror`,
		answer: `div[data-testid="assistant-message"]`,
	},
	platform.Gemini: {
		input:  `rich-textarea div[contenteditable="true"]`,
		answer: `message-content`,
	},
	platform.Perplexity: {
		input:        `textarea[placeholder]`,
		inputIsValue: true,
		answer:       `div[dir="auto"] .prose`,
	},
	platform.GoogleAIO: {
		input:        `textarea[name="q"]`,
		inputIsValue: true,
		answer:       `div[data-attrid="AIOverview"]`,
	},
	platform.GoogleAIMode: {
		input:        `textarea[name="q"]`,
		inputIsValue: true,
		answer:       `div[data-subtree="aimc"]`,
	},
}

// Driver submits prompts and collects answers through a Session's chromedp
// context. It implements interfaces.PlatformDriver.
type Driver struct {
	logger logging.Logger
}

func NewDriver(logger logging.Logger) *Driver {
	if logger == nil {
		logger = logging.NewStdoutLogger("driver")
	}
	return &Driver{logger: logger}
}

// Submit types the prompt into the platform's composer and sends it with an
// Enter keypress.
func (d *Driver) Submit(ctx context.Context, handle interfaces.SessionHandle, text string) error {
	s, ok := handle.(*Session)
	if !ok {
		return fmt.Errorf("foreign session handle %T", handle)
	}
	sel, ok := platformSelectors[s.platform]
	if !ok {
		return fmt.Errorf("no selectors for platform %s", s.platform)
	}

	var submitted bool
	err := chromedp.Run(withSession(ctx, s),
		chromedp.WaitVisible(sel.input, chromedp.ByQuery),
		chromedp.Evaluate(submitScript(sel, text), &submitted),
	)
	if err != nil {
		return fmt.Errorf("submit on %s: %w", s.platform, err)
	}
	if !submitted {
		return fmt.Errorf("submit on %s: composer not found", s.platform)
	}

	d.logger.Debug("prompt submitted",
		logging.Field{Key: "label", Value: s.label},
		logging.Field{Key: "platform", Value: s.platform.String()})
	return nil
}

// collected is the raw DOM pull before scoring.
type collected struct {
	Text      string   `json:"text"`
	Citations []string `json:"citations"`
	ChatURL   string   `json:"chatUrl"`
}

// Collect pulls the latest answer text and its outbound links from the page,
// then scores them against the brand context.
func (d *Driver) Collect(ctx context.Context, handle interfaces.SessionHandle, brand model.BrandContext) (*model.CollectResponse, error) {
	s, ok := handle.(*Session)
	if !ok {
		return nil, fmt.Errorf("foreign session handle %T", handle)
	}
	sel, ok := platformSelectors[s.platform]
	if !ok {
		return nil, fmt.Errorf("no selectors for platform %s", s.platform)
	}

	var raw collected
	err := chromedp.Run(withSession(ctx, s),
		chromedp.Evaluate(collectScript(sel), &raw),
	)
	if err != nil {
		return nil, fmt.Errorf("collect on %s: %w", s.platform, err)
	}
	if strings.TrimSpace(raw.Text) == "" {
		return nil, fmt.Errorf("collect on %s: empty response", s.platform)
	}

	resp := Analyze(raw.Text, raw.Citations, brand)
	resp.ChatURL = raw.ChatURL

	d.logger.Debug("response collected",
		logging.Field{Key: "label", Value: s.label},
		logging.Field{Key: "platform", Value: s.platform.String()},
		logging.Field{Key: "chars", Value: len(raw.Text)},
		logging.Field{Key: "brand_mentioned", Value: resp.BrandMentioned})
	return resp, nil
}

// withSession ties the scan's cancellation to the session's browser context:
// chromedp actions run against the browser, but abort when either context ends.
func withSession(ctx context.Context, s *Session) context.Context {
	browserCtx := s.Context()
	merged, cancel := context.WithCancel(browserCtx)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged
}

func submitScript(sel selectors, text string) string {
	quoted, _ := json.Marshal(text)
	if sel.inputIsValue {
		return fmt.Sprintf(`(() => {
	const el = document.querySelector(%q);
	if (!el) return false;
	el.focus();
	const setter = Object.getOwnPropertyDescriptor(window.HTMLTextAreaElement.prototype, 'value').set;
	setter.call(el, %s);
	el.dispatchEvent(new Event('input', { bubbles: true }));
	const form = el.closest('form');
	if (form && form.requestSubmit) { form.requestSubmit(); }
	else {
		el.dispatchEvent(new KeyboardEvent('keydown', { key: 'Enter', code: 'Enter', keyCode: 13, bubbles: true }));
	}
	return true;
})()`, sel.input, quoted)
	}
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%q);
	if (!el) return false;
	el.focus();
	document.execCommand('insertText', false, %s);
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new KeyboardEvent('keydown', { key: 'Enter', code: 'Enter', keyCode: 13, bubbles: true }));
	return true;
})()`, sel.input, quoted)
}

func collectScript(sel selectors) string {
	return fmt.Sprintf(`(() => {
	const nodes = document.querySelectorAll(%q);
	if (nodes.length === 0) return { text: "", citations: [], chatUrl: location.href };
	const last = nodes[nodes.length - 1];
	const links = [];
	for (const a of last.querySelectorAll('a[href]')) {
		const href = a.href;
		if (href && href.startsWith('http') && !links.includes(href)) links.push(href);
	}
	return { text: last.innerText || "", citations: links, chatUrl: location.href };
})()`, sel.answer)
}
