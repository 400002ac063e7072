package httpapi

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/talchain/olumi-cee/cee"
)

// evidencePackRequest is the body of POST /assist/evidence-pack (§6).
type evidencePackRequest struct {
	Citations  []string               `json:"citations"`
	Rationales []string               `json:"rationales"`
	CSVStats   []map[string]interface{} `json:"csv_stats"`
}

// handleEvidencePack implements POST /assist/evidence-pack. Gated by
// EnableEvidencePack: when the flag is off, the route itself is not
// mounted (see router.go), so a request reaching this handler always has
// the feature enabled.
func (d *Dependencies) handleEvidencePack(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeCeeError(w, cee.Wrap(cee.CodeValidationFailed, "could not read request body", cee.Trace{RequestID: requestID}, err))
		return
	}
	var req evidencePackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeCeeError(w, cee.Wrap(cee.CodeValidationFailed, "invalid evidence-pack request", cee.Trace{RequestID: requestID}, err))
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	var (
		payload     []byte
		contentType string
		ext         string
	)
	switch format {
	case "json":
		payload, err = json.MarshalIndent(req, "", "  ")
		contentType, ext = "application/json", "json"
	case "csv":
		payload, err = evidencePackCSV(req)
		contentType, ext = "text/csv", "csv"
	case "markdown":
		payload = []byte(evidencePackMarkdown(req))
		contentType, ext = "text/markdown", "md"
	default:
		writeCeeError(w, cee.New(cee.CodeValidationFailed, "unsupported format: "+format, cee.Trace{RequestID: requestID}))
		return
	}
	if err != nil {
		writeCeeError(w, cee.Wrap(cee.CodeInternalError, "failed to render evidence pack", cee.Trace{RequestID: requestID}, err))
		return
	}

	filename := "evidence-pack-" + requestID + "." + ext
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// evidencePackCSV renders citations/rationales as rows in a two-column
// {kind, text} table followed by one row per csv_stats entry. There is
// no third-party CSV library anywhere in the reference corpus; this is
// encoding/csv, the standard library's own writer.
func evidencePackCSV(req evidencePackRequest) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	if err := cw.Write([]string{"kind", "text"}); err != nil {
		return nil, err
	}
	for _, c := range req.Citations {
		if err := cw.Write([]string{"citation", c}); err != nil {
			return nil, err
		}
	}
	for _, r := range req.Rationales {
		if err := cw.Write([]string{"rationale", r}); err != nil {
			return nil, err
		}
	}
	for i, stat := range req.CSVStats {
		for k, v := range stat {
			if err := cw.Write([]string{fmt.Sprintf("csv_stat[%d]", i), k + "=" + fmt.Sprint(v)}); err != nil {
				return nil, err
			}
		}
	}

	cw.Flush()
	return buf.Bytes(), cw.Error()
}

func evidencePackMarkdown(req evidencePackRequest) string {
	var buf bytes.Buffer
	buf.WriteString("# Evidence Pack\n\n")

	buf.WriteString("## Citations\n\n")
	for _, c := range req.Citations {
		buf.WriteString("- " + c + "\n")
	}

	buf.WriteString("\n## Rationales\n\n")
	for _, r := range req.Rationales {
		buf.WriteString("- " + r + "\n")
	}

	buf.WriteString("\n## CSV Stats\n\n")
	for i, stat := range req.CSVStats {
		buf.WriteString("### Stat " + strconv.Itoa(i) + "\n\n")
		for k, v := range stat {
			buf.WriteString(fmt.Sprintf("- **%s**: %v\n", k, v))
		}
	}
	return buf.String()
}
