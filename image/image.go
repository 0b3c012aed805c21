// Package image implements the portable image format: one or more compiled
// bytecode modules bundled with the id of the main module, encoded as
// canonical CBOR. Each module carries a content hash which is verified on
// decode.
package image

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/ltratt/converge/bytecode"
)

// FormatVersion is the image format written by this package.
const FormatVersion = 1

var (
	// ErrVersion is returned when decoding an image of an unknown format.
	ErrVersion = errors.New("image: unsupported format version")
	// ErrHash is returned when a module's bytecode does not match its hash.
	ErrHash = errors.New("image: module hash mismatch")
	// ErrNoModules is returned for images without modules.
	ErrNoModules = errors.New("image: no modules")
)

var log = commonlog.GetLogger("converge.image")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Image is a set of compiled modules. The main module is listed first.
type Image struct {
	Format  uint      `cbor:"1,keyasint"`
	ID      string    `cbor:"2,keyasint"`
	Main    string    `cbor:"3,keyasint"`
	Created time.Time `cbor:"4,keyasint"`
	Modules []Module  `cbor:"5,keyasint"`
}

// Module is one compiled module record.
type Module struct {
	ID       string   `cbor:"1,keyasint"`
	Name     string   `cbor:"2,keyasint"`
	SrcPath  string   `cbor:"3,keyasint,omitempty"`
	Imports  []string `cbor:"4,keyasint,omitempty"`
	Hash     [32]byte `cbor:"5,keyasint"`
	Bytecode []byte   `cbor:"6,keyasint"`
}

// Verify checks that m's bytecode matches its hash.
func (m *Module) Verify() error {
	if sha256.Sum256(m.Bytecode) != m.Hash {
		return fmt.Errorf("%w: %s", ErrHash, m.ID)
	}
	return nil
}

// NewModule describes a module record, reading its identity from the
// record itself.
func NewModule(rec []byte) (Module, error) {
	m, err := bytecode.ParseModule(rec)
	if err != nil {
		return Module{}, err
	}
	return Module{
		ID:       m.ID,
		Name:     m.Name,
		SrcPath:  m.SrcPath,
		Imports:  m.Imports,
		Hash:     sha256.Sum256(rec),
		Bytecode: rec,
	}, nil
}

// FromExecutable builds an image from a CONVEXEC buffer.
func FromExecutable(buf []byte) (*Image, error) {
	recs, err := bytecode.ParseExecutable(buf)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNoModules
	}
	img := &Image{
		Format:  FormatVersion,
		ID:      uuid.NewString(),
		Created: time.Now().UTC().Truncate(time.Second),
	}
	for i, rec := range recs {
		m, err := NewModule(rec)
		if err != nil {
			return nil, fmt.Errorf("image: module %d: %w", i, err)
		}
		img.Modules = append(img.Modules, m)
	}
	img.Main = img.Modules[0].ID
	return img, nil
}

// Executable links the image back into a CONVEXEC buffer with the main
// module first.
func (img *Image) Executable() ([]byte, error) {
	if len(img.Modules) == 0 {
		return nil, ErrNoModules
	}
	recs := make([][]byte, 0, len(img.Modules))
	for _, m := range img.Modules {
		if m.ID == img.Main {
			recs = append([][]byte{m.Bytecode}, recs...)
		} else {
			recs = append(recs, m.Bytecode)
		}
	}
	return bytecode.WriteExecutable(recs...), nil
}

// Marshal serializes an image to CBOR bytes.
func Marshal(img *Image) ([]byte, error) {
	return cborEncMode.Marshal(img)
}

// Unmarshal deserializes an image from CBOR bytes and verifies its
// modules.
func Unmarshal(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if img.Format != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, img.Format)
	}
	if len(img.Modules) == 0 {
		return nil, ErrNoModules
	}
	for i := range img.Modules {
		if err := img.Modules[i].Verify(); err != nil {
			return nil, err
		}
	}
	return &img, nil
}

// Load reads an image file.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: cannot read %s: %w", path, err)
	}
	img, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("loaded image %s (%d modules) from %s", img.ID, len(img.Modules), path)
	return img, nil
}

// Save writes img to path.
func Save(path string, img *Image) error {
	data, err := Marshal(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("image: cannot write %s: %w", path, err)
	}
	log.Debugf("saved image %s to %s", img.ID, path)
	return nil
}

// IsImage reports whether data looks like a CBOR-encoded image rather than
// a bytecode container.
func IsImage(data []byte) bool {
	return len(data) > 0 && !bytecode.IsExecutable(data) && !bytecode.IsLibrary(data) && data[0]>>5 == 5
}
