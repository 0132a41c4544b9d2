package executor

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"pvforge/internal/prepare"
	"pvforge/internal/prepare/memtracker"
)

// pvfMagic is the 8-byte prefix marking a zstd-wrapped code blob.
var pvfMagic = []byte{82, 188, 83, 118, 70, 75, 82, 78}

// codeBombLimit bounds decompression so a tiny blob cannot expand without
// limit.
const codeBombLimit = 32 << 20

// wasmMagic and wasmVersion open every well-formed module.
var (
	wasmMagic   = []byte{0x00, 0x61, 0x73, 0x6D}
	wasmVersion = []byte{0x01, 0x00, 0x00, 0x00}
)

const (
	sectionMemory = 5
	sectionExport = 7
	sectionMax    = 12
)

// artifactMagic opens the reference artifact container.
var artifactMagic = []byte("PVFA")

const artifactHeaderSize = 4 + 1 + blake2b.Size256 + 8

const flagHasExports = 0x01

// Reference is the built-in engine. It does no real code generation:
// prevalidation performs the structural checks a compiler front end would,
// and the artifact is a digest-sealed container around the module, verified
// again at instantiation.
type Reference struct {
	alloc Allocator
}

// NewReference creates the reference engine. A nil allocator gets the
// passthrough.
func NewReference(alloc Allocator) *Reference {
	if alloc == nil {
		alloc = memtracker.Passthrough{}
	}
	return &Reference{alloc: alloc}
}

// Prevalidate unwraps a zstd-compressed blob when the PVF magic prefix is
// present, then walks the module structure.
func (r *Reference) Prevalidate(code []byte, params prepare.ExecutorParams) ([]byte, error) {
	module := code
	if bytes.HasPrefix(code, pvfMagic) {
		decoded, err := r.decompress(code[len(pvfMagic):])
		if err != nil {
			return nil, err
		}
		module = decoded
	}

	info, err := walkModule(module)
	if err != nil {
		return nil, err
	}
	if params.MaxMemoryPages > 0 && info.memoryMinPages > uint64(params.MaxMemoryPages) {
		return nil, fmt.Errorf("module declares %d memory pages, limit is %d", info.memoryMinPages, params.MaxMemoryPages)
	}
	return module, nil
}

// Prepare seals the module into the artifact container.
func (r *Reference) Prepare(module []byte, params prepare.ExecutorParams) ([]byte, error) {
	info, err := walkModule(module)
	if err != nil {
		return nil, fmt.Errorf("module no longer valid at prepare: %w", err)
	}

	size := artifactHeaderSize + len(module)
	if params.MaxArtifactSize > 0 && uint64(size) > params.MaxArtifactSize {
		return nil, fmt.Errorf("artifact of %d bytes exceeds limit %d", size, params.MaxArtifactSize)
	}

	r.alloc.Allocate(int64(size))

	digest := blake2b.Sum256(module)
	artifact := make([]byte, 0, size)
	artifact = append(artifact, artifactMagic...)
	var flags byte
	if info.hasExports {
		flags |= flagHasExports
	}
	artifact = append(artifact, flags)
	artifact = append(artifact, digest[:]...)
	artifact = binary.LittleEndian.AppendUint64(artifact, uint64(len(module)))
	artifact = append(artifact, module...)
	return artifact, nil
}

// Instantiate re-verifies the container and resolves an entry point. A
// module without exports compiles fine but cannot be instantiated: nothing
// to call.
func (r *Reference) Instantiate(artifact []byte, params prepare.ExecutorParams) error {
	if len(artifact) < artifactHeaderSize {
		return fmt.Errorf("artifact truncated at %d bytes", len(artifact))
	}
	if !bytes.HasPrefix(artifact, artifactMagic) {
		return fmt.Errorf("bad artifact magic")
	}
	flags := artifact[4]
	digest := artifact[5 : 5+blake2b.Size256]
	moduleLen := binary.LittleEndian.Uint64(artifact[5+blake2b.Size256:])
	module := artifact[artifactHeaderSize:]
	if uint64(len(module)) != moduleLen {
		return fmt.Errorf("artifact body is %d bytes, header says %d", len(module), moduleLen)
	}

	actual := blake2b.Sum256(module)
	if !bytes.Equal(actual[:], digest) {
		return fmt.Errorf("artifact digest mismatch")
	}
	if flags&flagHasExports == 0 {
		return fmt.Errorf("module has no exports: no entry point to resolve")
	}
	if _, err := walkModule(module); err != nil {
		return fmt.Errorf("embedded module invalid: %w", err)
	}
	return nil
}

func (r *Reference) decompress(blob []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(codeBombLimit),
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress code blob: %w", err)
	}
	r.alloc.Allocate(int64(len(out)))
	r.alloc.Deallocate(int64(len(out)))
	return out, nil
}

type moduleInfo struct {
	hasExports     bool
	memoryMinPages uint64
}

// walkModule checks the header and every section frame of a WASM binary.
// Section payloads are not interpreted beyond what the limits need.
func walkModule(module []byte) (moduleInfo, error) {
	var info moduleInfo
	if len(module) < 8 {
		return info, fmt.Errorf("module of %d bytes is too short", len(module))
	}
	if !bytes.HasPrefix(module, wasmMagic) {
		return info, fmt.Errorf("bad module magic")
	}
	if !bytes.Equal(module[4:8], wasmVersion) {
		return info, fmt.Errorf("unsupported module version % x", module[4:8])
	}

	rest := module[8:]
	for len(rest) > 0 {
		id := rest[0]
		if id > sectionMax {
			return info, fmt.Errorf("unknown section id %d", id)
		}
		size, n, err := readULEB128(rest[1:])
		if err != nil {
			return info, fmt.Errorf("section %d: %w", id, err)
		}
		body := rest[1+n:]
		if size > uint64(len(body)) {
			return info, fmt.Errorf("section %d of %d bytes truncated", id, size)
		}

		switch id {
		case sectionExport:
			info.hasExports = size > 0
		case sectionMemory:
			minPages, err := parseMemorySection(body[:size])
			if err != nil {
				return info, err
			}
			info.memoryMinPages = minPages
		}

		rest = body[size:]
	}
	return info, nil
}

func parseMemorySection(body []byte) (uint64, error) {
	count, n, err := readULEB128(body)
	if err != nil {
		return 0, fmt.Errorf("memory section count: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	body = body[n:]
	if len(body) < 1 {
		return 0, fmt.Errorf("memory section truncated at limits flag")
	}
	// limits flag (0x00 min only, 0x01 min and max), then min pages.
	minPages, _, err := readULEB128(body[1:])
	if err != nil {
		return 0, fmt.Errorf("memory section min pages: %w", err)
	}
	return minPages, nil
}

func readULEB128(b []byte) (uint64, int, error) {
	var result uint64
	var shift uint
	for i := 0; i < len(b); i++ {
		if shift >= 64 {
			return 0, 0, fmt.Errorf("uleb128 overflow")
		}
		c := b[i]
		result |= uint64(c&0x7F) << shift
		if c&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("uleb128 truncated")
}
