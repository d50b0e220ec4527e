package gmaps

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"
)

const (
	feedSelector = `div[role="feed"]`
	cardSelector = `div[role="feed"] > div`

	gotoTimeout    = 25000 // ms
	feedTimeout    = 7000  // ms
	scrollInterval = 350   // ms

	// Plateau detection: the scroll loop stops after this many attempts even
	// if the page never signals completion.
	maxScrollAttempts = 18
	plateauThreshold  = 3

	endOfListMarker = "you've reached the end"
)

// Resource types that only slow a fallback context down.
const blockedResources = "**/*.{png,jpg,jpeg,gif,svg,webp,woff,woff2,ttf,css}"

// Injected before navigation so the rendered page doesn't advertise
// automation.
const stealthScript = `
Object.defineProperty(navigator,'webdriver',{get:()=>undefined});
window.chrome={runtime:{}};
`

var (
	feedPhoneRe   = regexp.MustCompile(`[+0-9][0-9\s\-]{7,}`)
	reviewDigitRe = regexp.MustCompile(`[^\d,]`)
	placeLinkRe   = regexp.MustCompile(`place/([^/]+)/`)
)

// BrowserTier re-executes tasks the lightweight tier could not complete,
// using full browser automation. One browser process is shared across tasks;
// each task gets an isolated context so no state leaks between them.
type BrowserTier struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewBrowserTier(headless bool) (*BrowserTier, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("starting playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args: []string{
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--disable-gpu",
		},
	})
	if err != nil {
		_ = pw.Stop()

		return nil, fmt.Errorf("launching browser: %w", err)
	}

	return &BrowserTier{pw: pw, browser: browser}, nil
}

func (b *BrowserTier) Close() error {
	if err := b.browser.Close(); err != nil {
		_ = b.pw.Stop()

		return err
	}

	return b.pw.Stop()
}

// Search renders the task's search page, scrolls the result feed to the end
// and extracts places from the result cards. The browser context is closed
// on every exit path.
func (b *BrowserTier) Search(ctx context.Context, task SearchTask) TaskResult {
	result := TaskResult{Task: task}

	bctx, err := b.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:  &playwright.Size{Width: 1366, Height: 768},
		UserAgent: playwright.String(randomUserAgent()),
		Locale:    playwright.String("en-US"),
	})
	if err != nil {
		result.Outcome = OutcomeTransportError
		result.Err = fmt.Errorf("creating browser context: %w", err)

		return result
	}

	defer func() {
		_ = bctx.Close()
	}()

	if err := bctx.Route(blockedResources, func(route playwright.Route) {
		_ = route.Abort()
	}); err != nil {
		result.Outcome = OutcomeTransportError
		result.Err = err

		return result
	}

	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		result.Outcome = OutcomeTransportError
		result.Err = err

		return result
	}

	page, err := bctx.NewPage()
	if err != nil {
		result.Outcome = OutcomeTransportError
		result.Err = err

		return result
	}

	if _, err := page.Goto(task.URL(), playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(gotoTimeout),
	}); err != nil {
		result.Outcome = OutcomeTimeout
		result.Err = err

		return result
	}

	page.WaitForTimeout(1200)

	acceptConsentIfShown(page)

	//nolint:staticcheck // TODO replace with the new playwright API
	if _, err := page.WaitForSelector(feedSelector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(feedTimeout),
	}); err != nil {
		// No feed means no results rendered for this cell.
		result.Outcome = OutcomeSuccess

		return result
	}

	scrollFeed(ctx, page)

	html, err := page.Content()
	if err != nil {
		result.Outcome = OutcomeTransportError
		result.Err = err

		return result
	}

	result.Outcome = OutcomeSuccess
	result.Places = parseFeedHTML(html)

	return result
}

func acceptConsentIfShown(page playwright.Page) {
	btn := page.Locator(`button:has-text("Accept all")`).First()

	if count, err := btn.Count(); err == nil && count > 0 {
		if err := btn.Click(); err == nil {
			page.WaitForTimeout(500)
		}
	}
}

// scrollFeed scrolls the result feed until the end-of-list marker appears or
// the card count plateaus.
func scrollFeed(ctx context.Context, page playwright.Page) {
	const scrollExpr = `
const f=document.querySelector('div[role="feed"]');
if(f) f.scrollTop+=4000;
`

	noChange := 0
	lastCount := 0

	for i := 0; i < maxScrollAttempts; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := page.Evaluate(scrollExpr); err != nil {
			return
		}

		page.WaitForTimeout(scrollInterval)

		content, err := page.Content()
		if err != nil {
			return
		}

		if strings.Contains(strings.ToLower(content), endOfListMarker) {
			return
		}

		count, err := page.Locator(cardSelector).Count()
		if err != nil {
			return
		}

		if count == lastCount {
			noChange++
			if noChange >= plateauThreshold {
				return
			}
		} else {
			noChange = 0
			lastCount = count
		}
	}
}

// parseFeedHTML extracts places from the rendered result feed. Address and
// phone share the same card line style; a phone-shaped value decides which
// is which.
func parseFeedHTML(html string) []Place {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var places []Place

	doc.Find(`div[role=feed] > div > div[jsaction]`).Each(func(_ int, card *goquery.Selection) {
		name := strings.TrimSpace(card.Find("div.qBF1Pd, span.fontHeadlineSmall").First().Text())
		if name == "" {
			return
		}

		place := Place{
			Name:   name,
			Rating: strings.TrimSpace(card.Find("span.MW4etd").First().Text()),
		}

		if reviews := card.Find("span.UY7F9").First().Text(); reviews != "" {
			place.ReviewCount = reviewDigitRe.ReplaceAllString(reviews, "")
		}

		var lines []string

		card.Find("div.W4Efsd").Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				lines = append(lines, text)
			}
		})

		if len(lines) > 0 {
			place.Category = lines[0]
		}

		for _, line := range lines[min(1, len(lines)):] {
			if feedPhoneRe.MatchString(line) {
				place.Phone = line
			} else if place.Street == "" {
				place.Street = line
			}
		}

		if href, ok := card.Find(`a[href*="/maps/place/"]`).First().Attr("href"); ok && href != "" {
			place.MapsURL = href

			if m := placeLinkRe.FindStringSubmatch(href); m != nil {
				place.PlaceID = m[1]
			}
		}

		places = append(places, place)
	})

	return places
}
