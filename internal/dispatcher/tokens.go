package dispatcher

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// estimateCodec is built once and reused: constructing a Codec walks a
// vocabulary file, so doing it per request would dominate the cost of
// the verbosity-3 logging it supports.
var (
	estimateCodec     tokenizer.Codec
	estimateCodecErr  error
	estimateCodecOnce sync.Once
)

// estimateTokens returns a best-effort cl100k_base token count for text,
// used only to annotate verbosity-3 log lines. A tokenizer that fails to
// load, or text it can't encode, yields ok=false rather than an error:
// this is diagnostic output, never something a request should fail on.
func estimateTokens(text string) (count int, ok bool) {
	estimateCodecOnce.Do(func() {
		estimateCodec, estimateCodecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	if estimateCodecErr != nil || estimateCodec == nil || text == "" {
		return 0, false
	}
	ids, _, err := estimateCodec.Encode(text)
	if err != nil {
		return 0, false
	}
	return len(ids), true
}
