package report

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/kwonlabs/kwon-backplane/pkg/artifacts"
	"github.com/kwonlabs/kwon-backplane/pkg/flow"
)

// DocxWriter fills a DOCX template with workflow state and publishes
// the artifact. A missing template falls back to a generated minimal
// document so a report always exists.
type DocxWriter struct {
	templatePath string
	blobs        artifacts.Store
	logger       *slog.Logger
	clock        func() time.Time
}

func NewDocxWriter(templatePath string, blobs artifacts.Store, logger *slog.Logger) *DocxWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocxWriter{templatePath: templatePath, blobs: blobs, logger: logger, clock: time.Now}
}

func (w *DocxWriter) WithClock(clock func() time.Time) *DocxWriter {
	w.clock = clock
	return w
}

// WriteMonthly renders REP-<period>.docx and publishes it to the
// artifact store. A revise overwrites the same name.
func (w *DocxWriter) WriteMonthly(ctx context.Context, period string, s *flow.MonthlyState) (string, error) {
	placeholders := BuildContext(period, s, w.clock())

	var data []byte
	var err error
	if w.templatePath != "" {
		if _, statErr := os.Stat(w.templatePath); statErr == nil {
			data, err = fillTemplate(w.templatePath, placeholders)
			if err != nil {
				w.logger.Error("template fill failed, writing fallback document",
					"template", w.templatePath, "error", err)
				data = nil
			}
		}
	}
	if data == nil {
		data, err = fallbackDocument(period, placeholders)
		if err != nil {
			return "", fmt.Errorf("build fallback report: %w", err)
		}
	}

	path, err := w.blobs.Put(ctx, "REP-"+period+".docx", data)
	if err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}
	w.logger.Info("report written", "path", path, "bytes", len(data))
	return path, nil
}

// fillTemplate rewrites the template archive entry by entry, replacing
// {{key}} placeholders inside the document XML. Runs keep their
// formatting; multi-line values become explicit line breaks.
func fillTemplate(path string, placeholders map[string]string) ([]byte, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer r.Close()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open template entry %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read template entry %s: %w", f.Name, err)
		}

		if strings.HasPrefix(f.Name, "word/") && strings.HasSuffix(f.Name, ".xml") {
			content = []byte(substitute(string(content), placeholders))
		}

		out, err := zw.Create(f.Name)
		if err != nil {
			return nil, fmt.Errorf("write template entry %s: %w", f.Name, err)
		}
		if _, err := out.Write(content); err != nil {
			return nil, fmt.Errorf("write template entry %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// substitute replaces placeholders in document XML. Substitution also
// covers text inside table cells since it works on the raw XML stream.
func substitute(xmlText string, placeholders map[string]string) string {
	for key, value := range placeholders {
		xmlText = strings.ReplaceAll(xmlText, "{{"+key+"}}", xmlValue(value))
	}
	return xmlText
}

// xmlValue escapes a display value; newlines become run-level breaks so
// multi-line values render as separate lines inside the same run.
func xmlValue(v string) string {
	lines := strings.Split(v, "\n")
	for i := range lines {
		lines[i] = xmlEscape(lines[i])
	}
	return strings.Join(lines, "</w:t><w:br/><w:t>")
}

func xmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const relsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

// fallbackDocument builds a minimal report when no template is present.
func fallbackDocument(period string, placeholders map[string]string) ([]byte, error) {
	var doc strings.Builder
	doc.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	doc.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	writePara(&doc, "K-WON Monthly Compliance Report "+period)

	keys := make([]string, 0, len(placeholders))
	for k := range placeholders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, line := range strings.Split(placeholders[k], "\n") {
			writePara(&doc, k+": "+line)
		}
	}
	doc.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entries := map[string]string{
		"[Content_Types].xml": contentTypesXML,
		"_rels/.rels":         relsXML,
		"word/document.xml":   doc.String(),
	}
	for _, name := range []string{"[Content_Types].xml", "_rels/.rels", "word/document.xml"} {
		f, err := zw.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := f.Write([]byte(entries[name])); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePara(b *strings.Builder, text string) {
	b.WriteString("<w:p><w:r><w:t>")
	b.WriteString(xmlEscape(text))
	b.WriteString("</w:t></w:r></w:p>")
}
