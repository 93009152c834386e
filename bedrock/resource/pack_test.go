package resource

import (
	"archive/zip"
	"bytes"
	"testing"
)

func buildPackArchive(t *testing.T, manifestJSON string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("manifest.json")
	if err != nil {
		t.Fatalf("create manifest entry: %v", err)
	}
	if _, err := w.Write([]byte(manifestJSON)); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := zw.Create("assets/texture.png"); err != nil {
		t.Fatalf("create asset entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

const behaviourManifest = `{
	// Bedrock manifests tolerate comments (JSONC).
	"header": {"uuid": "2e645c2a-88fc-4a88-bdcc-c0676a4ac845", "version": [1, 2, 3], "name": "Test pack"},
	"modules": [{"type": "data"}]
}`

func TestReadPackParsesManifest(t *testing.T) {
	ra := buildPackArchive(t, behaviourManifest)
	p, err := ReadPack(ra, ra.Size())
	if err != nil {
		t.Fatalf("ReadPack: %v", err)
	}
	if p.UUID().String() != "2e645c2a-88fc-4a88-bdcc-c0676a4ac845" {
		t.Fatalf("unexpected uuid: %s", p.UUID())
	}
	if p.Version() != "1.2.3" {
		t.Fatalf("unexpected version: %s", p.Version())
	}
	if p.Len() != ra.Size() {
		t.Fatalf("Len() = %d, want %d", p.Len(), ra.Size())
	}
	if !p.HasBehaviours() {
		t.Fatal("expected HasBehaviours() true for a data module")
	}
	if p.HasScripts() {
		t.Fatal("expected HasScripts() false, no script module declared")
	}
}

const scriptManifest = `{
	"header": {"uuid": "9a6e6b3e-7b1b-4f2e-9b3a-1c2d3e4f5061", "version": [0, 1, 0], "name": "Script pack"},
	"modules": [{"type": "script"}]
}`

func TestReadPackDetectsScriptModule(t *testing.T) {
	ra := buildPackArchive(t, scriptManifest)
	p, err := ReadPack(ra, ra.Size())
	if err != nil {
		t.Fatalf("ReadPack: %v", err)
	}
	if !p.HasScripts() {
		t.Fatal("expected HasScripts() true for a script module")
	}
	if p.HasBehaviours() {
		t.Fatal("expected HasBehaviours() false")
	}
}

func TestReadPackRejectsMissingManifest(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.Create("assets/texture.png"); err != nil {
		t.Fatalf("create asset entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	ra := bytes.NewReader(buf.Bytes())
	if _, err := ReadPack(ra, ra.Size()); err == nil {
		t.Fatal("expected an error for an archive with no manifest.json")
	}
}

func TestReadPackRejectsInvalidUUID(t *testing.T) {
	manifest := `{"header": {"uuid": "not-a-uuid", "version": [1, 0, 0]}, "modules": []}`
	ra := buildPackArchive(t, manifest)
	if _, err := ReadPack(ra, ra.Size()); err == nil {
		t.Fatal("expected an error for an invalid pack uuid")
	}
}

func TestPackReadAt(t *testing.T) {
	ra := buildPackArchive(t, behaviourManifest)
	p, err := ReadPack(ra, ra.Size())
	if err != nil {
		t.Fatalf("ReadPack: %v", err)
	}
	buf := make([]byte, 4)
	n, err := p.ReadAt(buf, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("ReadAt returned %d bytes, want %d", n, len(buf))
	}
	if !bytes.Equal(buf, []byte("PK\x03\x04")) {
		t.Fatalf("unexpected zip magic bytes: %v", buf)
	}
}
