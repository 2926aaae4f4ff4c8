package tokenize

import (
	"github.com/pkg/errors"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Bert wraps the pretrained BERT-base-uncased wordpiece tokenizer, configured
// for truncation and fixed-length padding so every encoding has exactly
// maxLen positions. The wordpiece pad id is 0.
type Bert struct {
	tk     *tokenizer.Tokenizer
	maxLen int
}

var _ Tokenizer = (*Bert)(nil)

// NewBert builds the BERT tokenizer boundary. The pretrained vocabulary is
// fetched (and cached) by the underlying library on first use.
func NewBert(maxLen int) *Bert {
	tk := pretrained.BertBaseUncased()
	tk.WithTruncation(&tokenizer.TruncationParams{
		MaxLength: maxLen,
		Strategy:  tokenizer.LongestFirst,
	})
	padStrategy := tokenizer.NewPaddingStrategy(tokenizer.WithFixed(maxLen))
	tk.WithPadding(&tokenizer.PaddingParams{
		Strategy:  *padStrategy,
		Direction: tokenizer.Right,
		PadId:     0,
		PadTypeId: 0,
		PadToken:  "[PAD]",
	})
	return &Bert{tk: tk, maxLen: maxLen}
}

// Encode tokenizes one caption with special tokens, truncated and padded to
// the configured length.
func (b *Bert) Encode(text string) (Encoding, error) {
	en, err := b.tk.EncodeSingle(text, true)
	if err != nil {
		return Encoding{}, errors.Wrapf(err, "tokenizing caption (%d bytes)", len(text))
	}
	return Encoding{
		IDs:           toInt32(en.Ids),
		TypeIDs:       toInt32(en.TypeIds),
		AttentionMask: toInt32(en.AttentionMask),
	}, nil
}

// PadID returns the wordpiece padding id.
func (b *Bert) PadID() int32 { return 0 }

func toInt32(in []int) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}
