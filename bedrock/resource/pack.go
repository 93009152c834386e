// Package resource implements the minimal resource pack value type the
// handshake's ResourcePacksInfo/ResourcePackStack negotiation references.
// Full pack download/streaming is outside this core's scope (spec.md
// §4.4 "Resource-pack negotiation": "server streams pack data (not in
// core scope)"); only the identity/metadata surface the handshake
// itself touches is implemented.
package resource

import (
	"archive/zip"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/muhammadmuzzammil1998/jsonc"
)

// manifest mirrors the subset of a Bedrock resource pack's
// manifest.json the handshake needs: identity, version, and the module
// types that decide HasScripts/HasBehaviours.
type manifest struct {
	Header struct {
		UUID           string `json:"uuid"`
		Version        [3]int `json:"version"`
		Name           string `json:"name"`
	} `json:"header"`
	Modules []struct {
		Type string `json:"type"`
	} `json:"modules"`
}

// Pack is a zip-backed resource pack value, grounded on the teacher's
// resource.Pack usage sites in conn.go (pack.UUID(), pack.Version(),
// pack.Len(), pack.HasScripts(), pack.HasBehaviours(), pack.ReadAt()).
// Reimplemented here as a minimal standalone type since this core does
// not carry gophertunnel's own resource package source.
type Pack struct {
	id       uuid.UUID
	version  string
	size     int64
	scripts  bool
	behavior bool

	zr *zip.Reader
	ra io.ReaderAt
}

// ReadPack parses a resource pack from its zip-archived bytes, reading
// manifest.json (in JSONC, per muhammadmuzzammil1998/jsonc — Bedrock
// manifests tolerate comments) to populate identity and capability
// flags.
func ReadPack(ra io.ReaderAt, size int64) (*Pack, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("resource: open archive: %w", err)
	}
	var mf manifest
	found := false
	for _, f := range zr.File {
		if f.Name != "manifest.json" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("resource: open manifest: %w", err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("resource: read manifest: %w", err)
		}
		if err := jsonc.Unmarshal(raw, &mf); err != nil {
			return nil, fmt.Errorf("resource: parse manifest: %w", err)
		}
		found = true
		break
	}
	if !found {
		return nil, fmt.Errorf("resource: archive has no manifest.json")
	}

	id, err := uuid.Parse(mf.Header.UUID)
	if err != nil {
		return nil, fmt.Errorf("resource: invalid pack uuid: %w", err)
	}

	p := &Pack{
		id:      id,
		version: fmt.Sprintf("%d.%d.%d", mf.Header.Version[0], mf.Header.Version[1], mf.Header.Version[2]),
		size:    size,
		zr:      zr,
		ra:      ra,
	}
	for _, m := range mf.Modules {
		switch m.Type {
		case "client_data", "data", "script":
			p.scripts = p.scripts || m.Type == "script"
			p.behavior = p.behavior || m.Type == "data"
		}
	}
	return p, nil
}

// UUID returns the pack's identity, taken from manifest.json's header.
func (p *Pack) UUID() uuid.UUID { return p.id }

// Version returns the pack's "major.minor.patch" version string.
func (p *Pack) Version() string { return p.version }

// Len returns the archive's total byte size, as advertised in
// ResourcePacksInfo.
func (p *Pack) Len() int64 { return p.size }

// HasScripts reports whether the pack declares a script module.
func (p *Pack) HasScripts() bool { return p.scripts }

// HasBehaviours reports whether the pack declares a behavior-pack data
// module.
func (p *Pack) HasBehaviours() bool { return p.behavior }

// ReadAt reads a byte range of the raw archive.
func (p *Pack) ReadAt(b []byte, off int64) (int, error) { return p.ra.ReadAt(b, off) }
