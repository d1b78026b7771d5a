package rag

import (
	"fmt"
	"strings"
)

const answerSystemPrompt = `You are a medical documentation assistant specialized in summarizing clinical notes.

Your task is to:
1. Answer the question based ONLY on the provided context from medical documents
2. Be accurate and precise - cite specific information from the sources
3. If the context doesn't contain enough information to answer fully, say so
4. Use medical terminology appropriately but explain complex terms when helpful
5. Reference which source(s) you're using (e.g., "According to Source 1...")

Do not make up information or use knowledge outside the provided context.`

const noContextAnswer = "I couldn't find any relevant information in the documents to answer your question."

// buildAnswerPrompt numbers the retrieved chunks so the model can cite them
// and the caller can map citations back to sources.
func buildAnswerPrompt(question string, results []RetrievalResult) string {
	var context strings.Builder
	for i, r := range results {
		fmt.Fprintf(&context, "[Source %d] Document: %s\n%s\n\n", i+1, r.DocumentTitle, r.ChunkText)
	}

	return fmt.Sprintf(`Use the following context from medical documents to answer the question.

%s
Question: %s

Please provide a clear, accurate answer based on the context above. Reference the sources you use.`,
		context.String(), question)
}
