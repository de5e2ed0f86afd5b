// Registry loads the canonical CT log list and merges user-defined
// custom logs (spec.md §3 "CtLog", §4.1 "Log registry"), adapted from
// the teacher's ct-watcher.go getAllLogs/addNewlyAvailableLogs and its
// CCADB CA-owner download.
package certificatetransparency

import (
	"encoding/base64"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/certificate-transparency-go/loglist3"

	"github.com/certstream/certstream-core-go/internal/config"
)

// CAOwners maps a lowercase-hex AuthorityKeyIdentifier to the CA
// owner name. It is loaded once, when the supervisor starts and
// before any worker runs; it is not reloaded on the registry's
// refresh cadence. The teacher keeps this as a package-level map
// populated from CCADB; kept verbatim since it's read concurrently
// by the decoder for every certificate, and swapped wholesale rather
// than mutated in place.
var CAOwners = make(map[string]string)

const ccadbURL = "https://ccadb.my.salesforce-sites.com/ccadb/AllCertificateRecordsCSVFormatv2"

// CtLog is one upstream log's identity (spec.md §3).
type CtLog struct {
	ID       string
	Name     string
	URL      string
	Operator string
	MMD      int
}

// Registry tracks the current set of known logs and reports the
// diff (added/removed) on each Refresh, so callers can spawn or stop
// workers accordingly (spec.md §4.1).
type Registry struct {
	mu   sync.Mutex
	logs map[string]CtLog
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{logs: make(map[string]CtLog)}
}

// Snapshot returns the currently known logs.
func (r *Registry) Snapshot() []CtLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]CtLog, 0, len(r.logs))
	for _, l := range r.logs {
		out = append(out, l)
	}

	return out
}

// Refresh downloads the canonical log list, merges the custom logs
// from configuration, and returns the logs added and removed since
// the last call (spec.md §4.1 diff semantics). Duplicate ids are
// rejected with a WARN log rather than failing the whole refresh.
func (r *Registry) Refresh(custom []config.CustomLog) (added, removed []CtLog, err error) {
	fresh := make(map[string]CtLog)

	logList, listErr := fetchLogList()
	if listErr != nil {
		return nil, nil, fmt.Errorf("fetch log list: %w", listErr)
	}

	for _, operator := range logList.Operators {
		for _, l := range operator.Logs {
			id := logID(l)
			normalizedURL := normalizeCtlogURL(l.URL)

			if _, exists := fresh[id]; exists {
				log.Printf("WARN: registry: duplicate log id %q (%s), skipping\n", id, normalizedURL)
				continue
			}

			fresh[id] = CtLog{
				ID:       id,
				Name:     l.Description,
				URL:      ensureScheme(l.URL),
				Operator: operator.Name,
				MMD:      int(l.MMD),
			}
		}
	}

	for _, c := range custom {
		if _, exists := fresh[c.ID]; exists {
			log.Printf("WARN: registry: custom log id %q collides with a known log, skipping\n", c.ID)
			continue
		}

		fresh[c.ID] = CtLog{ID: c.ID, Name: c.Name, URL: ensureScheme(c.URL), Operator: c.Operator, MMD: c.MMD}
	}

	r.mu.Lock()
	for id, l := range fresh {
		if _, existed := r.logs[id]; !existed {
			added = append(added, l)
		}
	}

	for id, l := range r.logs {
		if _, stillPresent := fresh[id]; !stillPresent {
			removed = append(removed, l)
		}
	}

	r.logs = fresh
	r.mu.Unlock()

	return added, removed, nil
}

func logID(l *loglist3.Log) string {
	if len(l.LogID) > 0 {
		return base64.StdEncoding.EncodeToString(l.LogID)
	}

	return normalizeCtlogURL(l.URL)
}

func fetchLogList() (*loglist3.LogList, error) {
	resp, err := http.Get(loglist3.LogListURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching log list", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return loglist3.NewFromJSON(body)
}

func normalizeCtlogURL(input string) string {
	input = strings.TrimPrefix(input, "https://")
	input = strings.TrimPrefix(input, "http://")
	input = strings.TrimSuffix(input, "/")

	return input
}

func ensureScheme(url string) string {
	url = strings.TrimRight(url, "/")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}

	return url
}

// RefreshCAOwners downloads the CCADB all-certificate-records CSV and
// rebuilds CAOwners, mapping AuthorityKeyIdentifier (lowercase hex) to
// CA owner name (spec.md's additive ca_owner field, see SPEC_FULL.md).
func RefreshCAOwners() error {
	owners, err := downloadAndParseCSV(ccadbURL, 18, 0, true)
	if err != nil {
		return err
	}

	CAOwners = owners
	log.Printf("CCADB: loaded %d intermediate CA entries\n", len(owners))

	return nil
}

// downloadAndParseCSV downloads a CSV document and builds a map from
// the base64-then-hex-decoded key column to the value column,
// retrying with exponential backoff on transient failure. Adapted
// from the teacher's DownloadAndParseCSV.
func downloadAndParseCSV(url string, keyColIndex, valueColIndex int, skipHeader bool) (map[string]string, error) {
	const maxRetries = 3

	var resp *http.Response
	var err error

	delay := time.Second
	for attempt := 1; attempt <= maxRetries; attempt++ {
		client := &http.Client{Timeout: 30 * time.Second}

		resp, err = client.Get(url)
		if err == nil && resp.StatusCode == http.StatusOK {
			break
		}

		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}

		if attempt == maxRetries {
			if err != nil {
				return nil, fmt.Errorf("download CSV after %d attempts: %w", maxRetries, err)
			}

			return nil, fmt.Errorf("download CSV after %d attempts: status %d", maxRetries, resp.StatusCode)
		}

		time.Sleep(delay)
		delay *= 2
	}
	defer resp.Body.Close()

	reader := csv.NewReader(resp.Body)

	firstRow, readErr := reader.Read()
	if readErr != nil {
		return nil, fmt.Errorf("read CSV header: %w", readErr)
	}

	if keyColIndex < 0 || keyColIndex >= len(firstRow) {
		return nil, errors.New("key column index out of range")
	}

	if valueColIndex < 0 || valueColIndex >= len(firstRow) {
		return nil, errors.New("value column index out of range")
	}

	result := make(map[string]string)
	if !skipHeader {
		result[firstRow[keyColIndex]] = firstRow[valueColIndex]
	}

	for {
		record, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read CSV record: %w", readErr)
		}

		decoded, decodeErr := base64.StdEncoding.DecodeString(record[keyColIndex])
		if decodeErr != nil {
			continue
		}

		key := strings.ToLower(hex.EncodeToString(decoded))
		result[key] = record[valueColIndex]
	}

	return result, nil
}
