package helper

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/schema"
)

// GenerateUUID creates a random unique UUID string
func GenerateUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %v", err)
	}
	return id.String(), nil
}

// ContentID returns a stable id for a chunk, derived from its origin and text.
func ContentID(doc schema.Document) string {
	h := sha256.New()
	fmt.Fprintf(h, "%v\x00%v\x00%v\x00", doc.Metadata["source"], doc.Metadata["sheet"], doc.Metadata["row"])
	h.Write([]byte(doc.PageContent))
	return hex.EncodeToString(h.Sum(nil))
}

// DocumentID picks a content-derived id when dedup is on, a random one otherwise.
func DocumentID(doc schema.Document, dedup bool) (string, error) {
	if dedup {
		return ContentID(doc), nil
	}
	return GenerateUUID()
}

// WhereFilter converts vectorstores filter options into an exact-match
// metadata filter. Both map[string]string and map[string]any are accepted.
func WhereFilter(filters any) (map[string]string, error) {
	switch f := filters.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return f, nil
	case map[string]any:
		return ToStringMap(f), nil
	default:
		return nil, errors.New("unsupported filter type, want map[string]string")
	}
}

func ToStringMap(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// create folder if it doesn't exist
func CreateFolder(path string) error {
	return os.MkdirAll(path, 0o755)
}

// pretty print
func PrettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Msg("Error pretty printing")
	}
	fmt.Println(string(b))
}
