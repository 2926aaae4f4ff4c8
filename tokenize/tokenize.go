package tokenize

// Encoding is the fixed-length output of the text tokenizer for one caption:
// token ids, segment type ids and an attention mask that is zero at padding
// positions. All three slices share the tokenizer's configured max length.
type Encoding struct {
	IDs           []int32
	TypeIDs       []int32
	AttentionMask []int32
}

// Length counts the token ids that are not the padding id. It is the proxy
// for true caption length after truncation, used to order batches.
func (e Encoding) Length(padID int32) int {
	n := 0
	for _, id := range e.IDs {
		if id != padID {
			n++
		}
	}
	return n
}

// Tokenizer is the boundary to the pretrained text tokenizer. Implementations
// must truncate and pad every encoding to a fixed length.
type Tokenizer interface {
	Encode(text string) (Encoding, error)
	PadID() int32
}
