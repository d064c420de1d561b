package feedback

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TiktokenCounter measures text with an OpenAI BPE encoding. Counts are an
// approximation for other providers.
type TiktokenCounter struct {
	codec tokenizer.Codec
}

func NewTiktokenCounter() (*TiktokenCounter, error) {
	codec, err := tokenizer.Get(tokenizer.O200kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &TiktokenCounter{codec: codec}, nil
}

func (c *TiktokenCounter) Count(text string) (int, error) {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("encode: %w", err)
	}
	return len(ids), nil
}
