package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-phones/models"
	"github.com/joho/godotenv"
)

// Brand is one entry of the brand table: display name plus listing slug.
type Brand struct {
	Name string
	Slug string
}

// CategoryRule maps a case-insensitive name fragment to a catalog category.
type CategoryRule struct {
	Match      string
	CategoryID int
}

// Config holds scraper configuration. It is built once and treated as
// read-only after Validate.
type Config struct {
	BaseURL           string
	Brands            []Brand
	ModelsPerBrand    int
	MaxListingPages   int
	BrandParallelism  int
	DelayMin          time.Duration
	DelayMax          time.Duration
	Timeout           time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	RetryBackoffMax   time.Duration
	UserAgents        []string
	UserAgentsFile    string // re-read on every refresh when set
	UserAgentRefresh  time.Duration
	RequiredFields    []string
	DefaultCategoryID int
	CategoryRules     []CategoryRule
	DedupeMaxSize     int
	OutputFile        string
	OutputFormat      string // csv, json, or dual
	MetricsAddr       string
	DatabaseURL       string
	ImportBatchSize   int
	RespectRobotsTxt  bool
	Verbose           bool

	ListingSelector  string
	NextPageSelector string
}

// DefaultBrands is the brand table used when none is configured.
var DefaultBrands = []Brand{
	{Name: "Samsung", Slug: "samsung-phones-9"},
	{Name: "Apple", Slug: "apple-phones-48"},
	{Name: "Xiaomi", Slug: "xiaomi-phones-80"},
	{Name: "Oppo", Slug: "oppo-phones-82"},
	{Name: "Vivo", Slug: "vivo-phones-98"},
	{Name: "Realme", Slug: "realme-phones-118"},
	{Name: "Google", Slug: "google-phones-107"},
	{Name: "OnePlus", Slug: "oneplus-phones-95"},
}

// DefaultUserAgents seeds the identity pool.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.2478.51",
}

// DefaultRequiredFields is the completeness policy used by the complete-only crawl.
var DefaultRequiredFields = []string{
	models.FieldCamera,
	models.FieldBattery,
	models.FieldRAM,
	models.FieldStorage,
}

// DefaultConfig returns conservative defaults for the catalog source.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "https://www.gsmarena.com",
		Brands:            append([]Brand(nil), DefaultBrands...),
		ModelsPerBrand:    40,
		MaxListingPages:   3,
		BrandParallelism:  2,
		DelayMin:          1 * time.Second,
		DelayMax:          3 * time.Second,
		Timeout:           10 * time.Second,
		MaxRetries:        2,
		RetryBackoff:      2 * time.Second,
		RetryBackoffMax:   30 * time.Second,
		UserAgents:        append([]string(nil), DefaultUserAgents...),
		UserAgentRefresh:  10 * time.Minute,
		RequiredFields:    append([]string(nil), DefaultRequiredFields...),
		DefaultCategoryID: 1,
		CategoryRules: []CategoryRule{
			{Match: "watch", CategoryID: 3},
			{Match: "tab", CategoryID: 2},
			{Match: "pad", CategoryID: 2},
		},
		DedupeMaxSize:    10000,
		OutputFile:       "data/complete_phones.csv",
		OutputFormat:     "csv",
		ImportBatchSize:  50,
		RespectRobotsTxt: false,
		Verbose:          false,
		ListingSelector:  "div.makers",
		NextPageSelector: `a.prevnextbutton[title="Next page"]`,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if len(c.Brands) == 0 {
		return fmt.Errorf("at least one brand is required")
	}
	for _, b := range c.Brands {
		if strings.TrimSpace(b.Name) == "" || strings.TrimSpace(b.Slug) == "" {
			return fmt.Errorf("brand entries need a name and a slug, got %q=%q", b.Name, b.Slug)
		}
	}
	if c.ModelsPerBrand <= 0 {
		return fmt.Errorf("models per brand must be positive")
	}
	if c.MaxListingPages <= 0 {
		return fmt.Errorf("max listing pages must be positive")
	}
	if c.BrandParallelism <= 0 {
		return fmt.Errorf("brand parallelism must be positive")
	}
	if c.DelayMin < 0 || c.DelayMax < 0 {
		return fmt.Errorf("delay bounds cannot be negative")
	}
	if c.DelayMin > c.DelayMax {
		return fmt.Errorf("delay min (%s) cannot exceed delay max (%s)", c.DelayMin, c.DelayMax)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if len(c.UserAgents) == 0 {
		return fmt.Errorf("user agent pool cannot be empty")
	}
	for _, field := range c.RequiredFields {
		if !models.IsKnownField(field) {
			return fmt.Errorf("required field %q is not a device field", field)
		}
	}
	if c.DefaultCategoryID <= 0 {
		return fmt.Errorf("default category id must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.ImportBatchSize <= 0 {
		return fmt.Errorf("import batch size must be positive")
	}

	return nil
}

// ListingURL returns the first listing page of a brand.
func (c *Config) ListingURL(b Brand) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimPrefix(b.Slug, "/") + ".php"
}

// Load builds a Config from defaults, an optional .env file and SCRAPER_*
// environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	} else if err != nil {
		slog.Debug("no .env file found, using process environment")
	}

	cfg := DefaultConfig()

	if v, ok := EnvString("SCRAPER_BASE_URL"); ok {
		cfg.BaseURL = v
	}
	if v, ok := EnvString("SCRAPER_BRANDS"); ok {
		brands, err := ParseBrands(v)
		if err != nil {
			return nil, fmt.Errorf("SCRAPER_BRANDS: %w", err)
		}
		cfg.Brands = brands
	}
	ints := map[string]*int{
		"SCRAPER_MODELS_PER_BRAND":    &cfg.ModelsPerBrand,
		"SCRAPER_MAX_LISTING_PAGES":   &cfg.MaxListingPages,
		"SCRAPER_BRAND_PARALLELISM":   &cfg.BrandParallelism,
		"SCRAPER_MAX_RETRIES":         &cfg.MaxRetries,
		"SCRAPER_DEFAULT_CATEGORY_ID": &cfg.DefaultCategoryID,
		"SCRAPER_DEDUPE_MAX_SIZE":     &cfg.DedupeMaxSize,
		"SCRAPER_IMPORT_BATCH_SIZE":   &cfg.ImportBatchSize,
	}
	for key, dst := range ints {
		value, ok, err := EnvInt(key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if ok {
			*dst = value
		}
	}
	durations := map[string]*time.Duration{
		"SCRAPER_DELAY_MIN":          &cfg.DelayMin,
		"SCRAPER_DELAY_MAX":          &cfg.DelayMax,
		"SCRAPER_TIMEOUT":            &cfg.Timeout,
		"SCRAPER_RETRY_BACKOFF":      &cfg.RetryBackoff,
		"SCRAPER_RETRY_BACKOFF_MAX":  &cfg.RetryBackoffMax,
		"SCRAPER_USER_AGENT_REFRESH": &cfg.UserAgentRefresh,
	}
	for key, dst := range durations {
		value, ok, err := EnvDuration(key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if ok {
			*dst = value
		}
	}
	if v, ok := EnvString("SCRAPER_REQUIRED_FIELDS"); ok {
		cfg.RequiredFields = ParseFieldList(v)
	}
	if v, ok := EnvString("SCRAPER_USER_AGENTS_FILE"); ok {
		agents, err := ReadUserAgents(v)
		if err != nil {
			return nil, err
		}
		cfg.UserAgents = agents
		cfg.UserAgentsFile = v
	}
	if v, ok := EnvString("SCRAPER_OUTPUT"); ok {
		cfg.OutputFile = v
	}
	if v, ok := EnvString("SCRAPER_FORMAT"); ok {
		cfg.OutputFormat = strings.ToLower(v)
	}
	if v, ok := EnvString("SCRAPER_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := EnvString("DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}

	return cfg, nil
}

// ParseBrands parses a comma separated list of Name=slug pairs.
func ParseBrands(raw string) ([]Brand, error) {
	var brands []Brand
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, slug, ok := strings.Cut(part, "=")
		name, slug = strings.TrimSpace(name), strings.TrimSpace(slug)
		if !ok || name == "" || slug == "" {
			return nil, fmt.Errorf("brand %q must look like Name=slug", part)
		}
		brands = append(brands, Brand{Name: name, Slug: slug})
	}
	if len(brands) == 0 {
		return nil, fmt.Errorf("no brands in %q", raw)
	}
	return brands, nil
}

// ParseFieldList parses a comma separated field list. "none" yields an empty
// policy, which accepts every record.
func ParseFieldList(raw string) []string {
	if strings.EqualFold(strings.TrimSpace(raw), "none") {
		return []string{}
	}
	fields := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			fields = append(fields, part)
		}
	}
	return fields
}

// ReadUserAgents loads one identity string per non-empty line.
func ReadUserAgents(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read user agents: %w", err)
	}
	var agents []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			agents = append(agents, line)
		}
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("user agents file %q is empty", path)
	}
	return agents, nil
}

// EnvString returns a trimmed, non-empty environment value.
func EnvString(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

// EnvInt parses an integer environment value.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("parse %q: %w", value, err)
	}
	return n, true, nil
}

// EnvDuration parses a Go duration environment value such as "1500ms".
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("parse %q: %w", value, err)
	}
	return d, true, nil
}
