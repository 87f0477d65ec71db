package container

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"filippo.io/age"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/manualbox/manualbox/internal/store"
)

// FormatVersion is written into every container.
const FormatVersion = 1

type envelope struct {
	Version int                    `cbor:"v"`
	Nodes   map[string]*store.Node `cbor:"nodes"`
	Data    map[string][]byte      `cbor:"data"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("container: CBOR encoder initialization failed: " + err.Error())
	}

	// Anything the encoder can write must decode again, so the collection
	// limits are raised to their maximum.
	decMode, err = cbor.DecOptions{
		MaxArrayElements: math.MaxInt32,
		MaxMapPairs:      math.MaxInt32,
	}.DecMode()
	if err != nil {
		panic("container: CBOR decoder initialization failed: " + err.Error())
	}

	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("container: zstd encoder initialization failed: " + err.Error())
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("container: zstd decoder initialization failed: " + err.Error())
	}
}

// encode turns tables into the compressed plaintext of a container.
func encode(t *store.Tables) ([]byte, error) {
	raw, err := encMode.Marshal(envelope{
		Version: FormatVersion,
		Nodes:   t.Nodes,
		Data:    t.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding tables: %w", err)
	}
	return encoder.EncodeAll(raw, nil), nil
}

// decode is the inverse of encode.
func decode(plaintext []byte) (*store.Tables, error) {
	raw, err := decoder.DecodeAll(plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}

	var env envelope
	if err := decMode.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding tables: %w", err)
	}
	if env.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported container version %d", env.Version)
	}
	for p, n := range env.Nodes {
		if n == nil {
			return nil, fmt.Errorf("nil node for %q", p)
		}
	}
	root, ok := env.Nodes["/"]
	if !ok || !root.IsDir() {
		return nil, fmt.Errorf("container has no root directory")
	}
	if env.Data == nil {
		env.Data = make(map[string][]byte)
	}
	return &store.Tables{Nodes: env.Nodes, Data: env.Data}, nil
}

// seal encrypts plaintext to the key's recipient.
func seal(w io.Writer, plaintext []byte, key *Key) error {
	aw, err := age.Encrypt(w, key.recipient)
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := aw.Write(plaintext); err != nil {
		return fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := aw.Close(); err != nil {
		return fmt.Errorf("finalizing age encryption: %w", err)
	}
	return nil
}

// open decrypts a sealed container. Any failure here means the key does not
// match or the ciphertext was tampered with.
func open(ciphertext []byte, key *Key) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), key.identity)
	if err != nil {
		return nil, err
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}
