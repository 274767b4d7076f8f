package importsources

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"reddot-watch/breakingnews/internal/models"
	"reddot-watch/breakingnews/internal/registry"
)

// Store is the part of the registry the importer writes to.
type Store interface {
	Insert(ctx context.Context, s models.Source) (int64, error)
}

// Result summarizes an import.
type Result struct {
	Total    int
	Imported int
	Errors   []string
}

// Importer handles the source import process
type Importer struct {
	store     Store
	remoteURL string
	client    *http.Client
}

// NewImporter creates a new source importer. When remoteURL is set and the
// local CSV file is missing, the file is downloaded from there first.
func NewImporter(store Store, remoteURL string) *Importer {
	return &Importer{store: store, remoteURL: remoteURL, client: http.DefaultClient}
}

// ImportSources imports sources from a CSV file
func (i *Importer) ImportSources(ctx context.Context, csvPath string) (Result, error) {
	log.Info().Str("csv", csvPath).Msg("Starting source import")

	csvData, err := i.getCSVData(ctx, csvPath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get CSV data: %w", err)
	}
	if c, ok := csvData.(io.Closer); ok {
		defer c.Close()
	}

	res, err := i.Import(ctx, csvData)
	if err != nil {
		return res, fmt.Errorf("failed to import sources: %w", err)
	}

	log.Info().Msg("Import completed successfully")
	return res, nil
}

func (i *Importer) getCSVData(ctx context.Context, csvPath string) (io.Reader, error) {
	if _, err := os.Stat(csvPath); err == nil {
		log.Info().Str("path", csvPath).Msg("Using local CSV file")
		return os.Open(csvPath)
	}

	if i.remoteURL != "" {
		log.Info().Str("url", i.remoteURL).Str("path", csvPath).Msg("Local CSV file not found. Downloading from remote source")

		reader, err := i.downloadCSV(ctx, i.remoteURL, csvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to download CSV file: %w", err)
		}
		return reader, nil
	}

	return nil, fmt.Errorf("CSV file not found: %s", csvPath)
}

// downloadCSV fetches the CSV file and keeps a copy at savePath.
func (i *Importer) downloadCSV(ctx context.Context, src, savePath string) (io.Reader, error) {
	log.Debug().Str("url", src).Str("savePath", savePath).Msg("Downloading CSV file")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: HTTP status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if savePath != "" {
		if err := os.WriteFile(savePath, body, 0o644); err != nil {
			return nil, fmt.Errorf("failed to create file %s: %w", savePath, err)
		}
		log.Debug().Int("bytes", len(body)).Str("path", savePath).Msg("Downloaded and saved CSV file")
	}

	return strings.NewReader(string(body)), nil
}

// Import reads sources from csvData. Only the url column is required; name,
// type, category, language, country, credibility and status are optional.
// Bad rows and duplicate URLs are reported in the result and skipped.
func (i *Importer) Import(ctx context.Context, csvData io.Reader) (Result, error) {
	var res Result

	reader := csv.NewReader(csvData)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return res, err
	}
	log.Debug().Strs("header", header).Msg("CSV header read")

	urlIdx := findColumnIndex(header, "url")
	if urlIdx < 0 {
		return res, errors.New("required column 'url' not found in CSV header")
	}
	nameIdx := findColumnIndex(header, "name")
	typeIdx := findColumnIndex(header, "type")
	categoryIdx := findColumnIndex(header, "category")
	languageIdx := findColumnIndex(header, "language")
	countryIdx := findColumnIndex(header, "country")
	credibilityIdx := findColumnIndex(header, "credibility")
	statusIdx := findColumnIndex(header, "status")

	lineCount := 1 // Header was already read

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		lineCount++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", lineCount).Msg("Error reading CSV line")
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}

		if len(record) == 0 || (len(record) == 1 && record[0] == "") {
			log.Debug().Int("line", lineCount).Msg("Skipping empty row")
			continue
		}
		res.Total++

		src, err := sourceFromRecord(record, urlIdx, nameIdx, typeIdx, categoryIdx, languageIdx, countryIdx, credibilityIdx, statusIdx)
		if err != nil {
			log.Warn().Err(err).Int("line", lineCount).Msg("Skipping invalid row")
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}

		logger := log.With().
			Int("line", lineCount).
			Str("url", src.URL).
			Str("name", src.Name).
			Logger()

		if _, err := i.store.Insert(ctx, *src); err != nil {
			if errors.Is(err, registry.ErrDuplicateURL) {
				logger.Warn().Msg("Duplicate URL")
				res.Errors = append(res.Errors, fmt.Sprintf("line %d: duplicate URL: %s", lineCount, src.URL))
			} else {
				logger.Error().Err(err).Msg("Failed to insert source")
				res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			}
			continue
		}

		res.Imported++
		logger.Debug().Msg("Source inserted successfully")
	}

	log.Info().
		Int("total", res.Total).
		Int("success", res.Imported).
		Int("errors", len(res.Errors)).
		Msg("Import summary")
	return res, nil
}

func sourceFromRecord(record []string, urlIdx, nameIdx, typeIdx, categoryIdx, languageIdx, countryIdx, credibilityIdx, statusIdx int) (*models.Source, error) {
	src := models.NewSource()
	src.AddedBy = models.AddedByImport

	src.URL = safeGetValue(record, urlIdx)
	if src.URL == "" {
		return nil, errors.New("empty URL")
	}

	src.Name = safeGetValue(record, nameIdx)
	if src.Name == "" {
		u, err := url.Parse(src.URL)
		if err != nil || u.Hostname() == "" {
			return nil, fmt.Errorf("invalid URL %q", src.URL)
		}
		src.Name = u.Hostname()
	}

	typ, err := models.ParseSourceType(safeGetValue(record, typeIdx))
	if err != nil {
		return nil, err
	}
	src.Type = typ
	src.Category = safeGetValue(record, categoryIdx)
	if lang := safeGetValue(record, languageIdx); lang != "" {
		src.Language = lang
	}
	src.Country = safeGetValue(record, countryIdx)

	if v := safeGetValue(record, credibilityIdx); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid credibility %q", v)
		}
		src.CredibilityScore = models.ClampScore(n)
	}

	switch strings.ToLower(safeGetValue(record, statusIdx)) {
	case "inactive", "disabled", "paused":
		src.IsActive = false
	}
	return src, nil
}

func findColumnIndex(header []string, columnName string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), columnName) {
			return i
		}
	}
	return -1
}

// safeGetValue returns the trimmed value at index, or "" when the index is
// out of bounds.
func safeGetValue(record []string, index int) string {
	if index >= 0 && index < len(record) {
		return strings.TrimSpace(record[index])
	}
	return ""
}
