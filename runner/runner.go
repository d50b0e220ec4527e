package runner

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-runewidth"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/term"

	"github.com/khushsoniamparo/Google-Extractor/tlmt"
	"github.com/khushsoniamparo/Google-Extractor/tlmt/gonoop"
	"github.com/khushsoniamparo/Google-Extractor/tlmt/goposthog"
)

const (
	RunModeWork = iota + 1
	RunModeSingle
	RunModeInstallPlaywright
)

var ErrInvalidRunMode = errors.New("invalid run mode")

type Runner interface {
	Run(context.Context) error
	Close(context.Context) error
}

type Config struct {
	Dsn                string
	DataFolder         string
	CacheDir           string
	CookieFile         string
	ProxyFile          string
	Location           string
	Keywords           []string
	GridSize           int
	HTTPConcurrency    int
	BrowserConcurrency int
	CacheTTL           time.Duration
	SessionTTL         time.Duration
	Debug              bool
	DisableTelemetry   bool
	RunMode            int
}

func ParseConfig() *Config {
	cfg := Config{}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	if os.Getenv("PLAYWRIGHT_INSTALL_ONLY") == "1" {
		cfg.RunMode = RunModeInstallPlaywright

		return &cfg
	}

	var keywords string

	flag.StringVar(&cfg.Dsn, "dsn", os.Getenv("DATABASE_URL"), "PostgreSQL connection string [default: $DATABASE_URL, falls back to sqlite]")
	flag.StringVar(&cfg.DataFolder, "data-folder", "extractordata", "data folder for the sqlite database and caches")
	flag.StringVar(&cfg.CacheDir, "cache", "", "search result cache directory [default: <data-folder>/cache]")
	flag.StringVar(&cfg.CookieFile, "cookie-file", "", "session cookie file [default: <data-folder>/cookies.json]")
	flag.StringVar(&cfg.ProxyFile, "proxy-file", "", "file with one proxy per line ($PROXY_LIST takes precedence)")
	flag.StringVar(&cfg.Location, "location", "", "location to extract (single-shot mode)")
	flag.StringVar(&keywords, "keywords", "", "comma separated keywords (single-shot mode)")
	flag.IntVar(&cfg.GridSize, "grid", 0, "grid size N for an NxN tiling [default: auto from available memory]")
	flag.IntVar(&cfg.HTTPConcurrency, "c", 0, "lightweight tier concurrency [default: auto from available memory]")
	flag.IntVar(&cfg.BrowserConcurrency, "browser-c", 0, "browser tier concurrency [default: auto from available memory]")
	flag.DurationVar(&cfg.CacheTTL, "cache-ttl", 6*time.Hour, "search result cache TTL")
	flag.DurationVar(&cfg.SessionTTL, "session-ttl", 2*time.Hour, "session cookie TTL")
	flag.BoolVar(&cfg.Debug, "debug", false, "run fallback browsers headful")
	flag.BoolVar(&cfg.DisableTelemetry, "disable-telemetry", false, "disable anonymous usage telemetry")

	flag.Parse()

	if cfg.CacheDir == "" {
		cfg.CacheDir = cfg.DataFolder + "/cache"
	}

	if cfg.CookieFile == "" {
		cfg.CookieFile = cfg.DataFolder + "/cookies.json"
	}

	if keywords != "" {
		for _, kw := range strings.Split(keywords, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				cfg.Keywords = append(cfg.Keywords, kw)
			}
		}
	}

	autotune(&cfg)

	if cfg.GridSize < 0 {
		panic("grid size must be positive")
	}

	if cfg.Location != "" && len(cfg.Keywords) == 0 {
		panic("keywords must be provided together with -location")
	}

	if cfg.Location == "" && len(cfg.Keywords) > 0 {
		panic("location must be provided together with -keywords")
	}

	if cfg.Location != "" {
		cfg.RunMode = RunModeSingle
	} else {
		cfg.RunMode = RunModeWork
	}

	return &cfg
}

// autotune fills unset concurrency and grid knobs from available memory.
// Browser contexts are the expensive resource; each needs roughly 300MB.
func autotune(cfg *Config) {
	availGB := 2.0

	if vm, err := mem.VirtualMemory(); err == nil {
		availGB = float64(vm.Available) / (1 << 30)
	}

	if cfg.HTTPConcurrency <= 0 {
		cfg.HTTPConcurrency = min(50, max(5, int(availGB*8)))
	}

	if cfg.BrowserConcurrency <= 0 {
		cfg.BrowserConcurrency = min(8, max(2, int(availGB/0.3)))
	}

	if cfg.GridSize <= 0 {
		if availGB > 4 {
			cfg.GridSize = 8
		} else {
			cfg.GridSize = 5
		}
	}
}

var (
	telemetryOnce sync.Once
	telemetry     tlmt.Telemetry
)

func Telemetry() tlmt.Telemetry {
	telemetryOnce.Do(func() {
		if os.Getenv("DISABLE_TELEMETRY") == "1" {
			telemetry = gonoop.New()

			return
		}

		val, err := goposthog.New(os.Getenv("POSTHOG_API_KEY"), "https://eu.i.posthog.com")
		if err != nil || val == nil {
			telemetry = gonoop.New()

			return
		}

		telemetry = val
	})

	return telemetry
}

func wrapText(text string, width int) []string {
	var lines []string

	currentLine := ""
	currentWidth := 0

	for _, r := range text {
		runeWidth := runewidth.RuneWidth(r)
		if currentWidth+runeWidth > width {
			lines = append(lines, currentLine)
			currentLine = string(r)
			currentWidth = runeWidth
		} else {
			currentLine += string(r)
			currentWidth += runeWidth
		}
	}

	if currentLine != "" {
		lines = append(lines, currentLine)
	}

	return lines
}

func banner(messages []string, width int) string {
	if width <= 0 {
		var err error

		width, _, err = term.GetSize(0)
		if err != nil {
			width = 80
		}
	}

	if width < 20 {
		width = 20
	}

	contentWidth := width - 4

	var wrappedLines []string
	for _, message := range messages {
		wrappedLines = append(wrappedLines, wrapText(message, contentWidth)...)
	}

	var builder strings.Builder

	builder.WriteString("╔" + strings.Repeat("═", width-2) + "╗\n")

	for _, line := range wrappedLines {
		lineWidth := runewidth.StringWidth(line)
		paddingRight := contentWidth - lineWidth

		if paddingRight < 0 {
			paddingRight = 0
		}

		builder.WriteString(fmt.Sprintf("║ %s%s ║\n", line, strings.Repeat(" ", paddingRight)))
	}

	builder.WriteString("╚" + strings.Repeat("═", width-2) + "╝\n")

	return builder.String()
}

func Banner() {
	message1 := "🌍 Google Extractor"
	message2 := "Grid-based business listing extraction with lightweight HTTP first and browser fallback"

	fmt.Fprintln(os.Stderr, banner([]string{message1, message2}, 0))
}
