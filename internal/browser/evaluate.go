package browser

import (
	"encoding/json"

	"github.com/chromedp/cdproto/runtime"
)

// awaitPromise makes Evaluate resolve promises returned by page scripts.
func awaitPromise(parameters *runtime.EvaluateParams) *runtime.EvaluateParams {
	return parameters.WithAwaitPromise(true)
}

// javaScriptStringLiteral encodes content as a JavaScript string literal so
// script payloads cannot break out of the surrounding expression.
func javaScriptStringLiteral(content string) string {
	encoded, encodeError := json.Marshal(content)
	if encodeError != nil {
		return `""`
	}
	return string(encoded)
}
