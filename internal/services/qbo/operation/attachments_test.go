package operation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/louisbranch/qbo-mcp/internal/platform/errors"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/criteria"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/upstream"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestAttachReceipts(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	pdf := writeFile(t, dir, "lunch.PDF", "%PDF-1.4")
	jpg := writeFile(t, dir, "taxi.jpeg", "jpeg bytes")

	env := h.exec.AttachReceipts(context.Background(), AttachRequest{EntityID: "77", FilePaths: []string{pdf, jpg}})
	if env.IsError {
		t.Fatalf("env = %+v", env)
	}
	if env.Result.AttachmentCount != 2 || strings.Join(env.Result.AttachedReceiptIDs, ",") != "att-1,att-2" {
		t.Fatalf("result = %+v", env.Result)
	}
	if h.api.count("read") != 1 {
		t.Fatalf("reads = %d, want 1 entity check", h.api.count("read"))
	}

	tests := []struct {
		upload      upstream.Upload
		name        string
		contentType string
		content     string
	}{
		{upload: h.api.uploads[0], name: "lunch.PDF", contentType: "application/pdf", content: "%PDF-1.4"},
		{upload: h.api.uploads[1], name: "taxi.jpeg", contentType: "image/jpeg", content: "jpeg bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.upload.FileName != tt.name || tt.upload.ContentType != tt.contentType {
				t.Fatalf("upload = %s %s", tt.upload.FileName, tt.upload.ContentType)
			}
			if string(tt.upload.Content) != tt.content {
				t.Fatalf("content = %q, want %q", tt.upload.Content, tt.content)
			}
			if tt.upload.EntityType != "Purchase" || tt.upload.EntityID != "77" {
				t.Fatalf("entity ref = %s %s", tt.upload.EntityType, tt.upload.EntityID)
			}
		})
	}
}

func TestAttachReceiptsNoFiles(t *testing.T) {
	h := newHarness(t)
	env := h.exec.AttachReceipts(context.Background(), AttachRequest{})
	if env.IsError || env.Result.AttachmentCount != 0 || env.Result.AttachedReceiptIDs == nil {
		t.Fatalf("env = %+v", env)
	}
	if h.api.count("read") != 0 || h.api.count("upload") != 0 {
		t.Fatal("no files must not reach QBO")
	}
}

func TestAttachReceiptsValidatesBeforeUpload(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "ok.png", "png")
	text := writeFile(t, dir, "notes.txt", "text")

	tests := []struct {
		name string
		req  AttachRequest
		code apperrors.Code
	}{
		{name: "missing id", req: AttachRequest{FilePaths: []string{good}}, code: apperrors.CodeValidation},
		{name: "unknown entity", req: AttachRequest{EntityType: "Spaceship", EntityID: "1", FilePaths: []string{good}}, code: apperrors.CodeValidation},
		{name: "missing file", req: AttachRequest{EntityID: "1", FilePaths: []string{good, filepath.Join(dir, "gone.pdf")}}, code: apperrors.CodeValidation},
		{name: "directory", req: AttachRequest{EntityID: "1", FilePaths: []string{dir}}, code: apperrors.CodeValidation},
		{name: "unsupported extension", req: AttachRequest{EntityID: "1", FilePaths: []string{good, text}}, code: apperrors.CodeUnsupportedMimeType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			assertFailure(t, h.exec.AttachReceipts(context.Background(), tt.req), tt.code)
			if h.api.count("upload") != 0 {
				t.Fatalf("uploads = %d, want 0", h.api.count("upload"))
			}
		})
	}
}

func TestAttachReceiptsEntityNotFound(t *testing.T) {
	h := newHarness(t)
	h.api.read = func(upstream.Entity, string) (map[string]any, error) {
		return nil, &upstream.HTTPError{Status: 400, Faults: []upstream.Fault{{Message: "Object Not Found", Code: "610"}}}
	}
	path := writeFile(t, t.TempDir(), "r.gif", "gif")

	assertFailure(t, h.exec.AttachReceipts(context.Background(), AttachRequest{EntityID: "9", FilePaths: []string{path}}), apperrors.CodeEntityNotFound)
	if h.api.count("upload") != 0 {
		t.Fatal("upload must not run for a missing entity")
	}
}

func TestAttachReceiptsPartialFailureNamesUploaded(t *testing.T) {
	h := newHarness(t)
	h.api.upload = func(u upstream.Upload) (map[string]any, error) {
		if u.FileName == "second.tif" {
			return nil, &upstreamError{status: 400}
		}
		return map[string]any{"Id": "att-first"}, nil
	}
	dir := t.TempDir()
	first := writeFile(t, dir, "first.tif", "a")
	second := writeFile(t, dir, "second.tif", "b")

	env := h.exec.AttachReceipts(context.Background(), AttachRequest{EntityType: "Bill", EntityID: "3", FilePaths: []string{first, second}})
	assertFailure(t, env, apperrors.CodeQBOAPI)
	if !strings.Contains(*env.Error, "att-first") {
		t.Fatalf("error = %q, want uploaded id", *env.Error)
	}
}

func TestAttachReceiptsRetriesUpload(t *testing.T) {
	h := newHarness(t)
	failures := 1
	h.api.upload = func(upstream.Upload) (map[string]any, error) {
		if failures > 0 {
			failures--
			return nil, &upstreamError{status: 503}
		}
		return map[string]any{"Id": "att-9"}, nil
	}
	path := writeFile(t, t.TempDir(), "r.jpg", "jpg")

	env := h.exec.AttachReceipts(context.Background(), AttachRequest{EntityID: "5", FilePaths: []string{path}})
	if env.IsError || env.Result.AttachedReceiptIDs[0] != "att-9" {
		t.Fatalf("env = %+v", env)
	}
	if h.api.count("upload") != 2 {
		t.Fatalf("uploads = %d, want 2", h.api.count("upload"))
	}
}

func TestListTaxCodes(t *testing.T) {
	h := newHarness(t)
	h.api.query = func(q criteria.Query) (map[string]any, error) {
		return map[string]any{"QueryResponse": map[string]any{"TaxCode": []any{
			map[string]any{"Id": "TAX", "Name": "TAX", "Description": "Taxable", "Taxable": true, "TaxGroup": false},
			map[string]any{"Id": "2", "Name": "gst", "Description": "Goods and services", "Active": true},
			map[string]any{"Id": "NON", "Name": "NON", "Description": "Non-taxable", "Taxable": false},
		}}}, nil
	}
	ctx := context.Background()

	env := h.exec.ListTaxCodes(ctx, TaxCodeFilter{})
	if env.IsError {
		t.Fatalf("env = %+v", env)
	}
	var names []string
	for _, code := range env.Result {
		names = append(names, code.Name)
	}
	if got := strings.Join(names, ","); got != "gst,NON,TAX" {
		t.Fatalf("names = %s", got)
	}
	if want := "SELECT * FROM TaxCode WHERE Active = true"; h.api.queries[0] != want {
		t.Fatalf("query = %q, want %q", h.api.queries[0], want)
	}
	if tax := env.Result[2]; tax.Taxable == nil || !*tax.Taxable || !tax.Active {
		t.Fatalf("TAX = %+v", tax)
	}

	env = h.exec.ListTaxCodes(ctx, TaxCodeFilter{Search: "taxable", IncludeInactive: true})
	if len(env.Result) != 2 {
		t.Fatalf("search result = %+v", env.Result)
	}
	if want := "SELECT * FROM TaxCode"; h.api.queries[1] != want {
		t.Fatalf("query = %q, want %q", h.api.queries[1], want)
	}
}
