package knowledge

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/zeebo/blake3"

	"linebot/internal/domain"
)

// ErrNoDocuments is returned when the documents folder is missing or holds
// no readable file with a supported extension.
var ErrNoDocuments = errors.New("no documents found")

// LoadDocuments reads every file under dir whose extension is in exts.
// Files are returned in lexical path order. Unreadable or empty files are
// logged and skipped.
func LoadDocuments(dir string, exts []string, logger *slog.Logger) ([]domain.Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNoDocuments, dir)
		}
		return nil, fmt.Errorf("stat documents dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNoDocuments, dir)
	}

	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(e)] = true
	}

	var docs []domain.Document
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !allowed[ext] {
			return nil
		}

		text, err := readText(path, ext)
		if err != nil {
			logger.Warn("skipping document", "path", path, "error", err)
			return nil
		}
		if strings.TrimSpace(text) == "" {
			logger.Debug("skipping empty document", "path", path)
			return nil
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		docs = append(docs, domain.Document{
			ID:          hashString(rel)[:16],
			Path:        rel,
			Content:     text,
			Fingerprint: hashString(text),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk documents dir: %w", err)
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w in %s (extensions %v)", ErrNoDocuments, dir, exts)
	}
	return docs, nil
}

// Fingerprint summarises a document set. It changes when any document is
// added, removed, renamed or edited.
func Fingerprint(docs []domain.Document) string {
	h := blake3.New()
	for _, d := range docs {
		h.Write([]byte(d.Path))
		h.Write([]byte{0})
		h.Write([]byte(d.Fingerprint))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func readText(path, ext string) (string, error) {
	if ext == ".pdf" {
		return readPDF(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(bytes.ToValidUTF8(data, []byte("�"))), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

func hashString(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
