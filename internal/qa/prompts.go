package qa

import (
	"strings"
	"text/template"
)

var (
	directTemplate = template.Must(template.New("direct").Parse(`You are reading a file from a GitHub repository located at the path {{.FilePath}}.
Answer the question '{{.Question}}' using only the content below. If the content
has no information relevant to the question, reply that there is not enough
information in the file to provide an answer.

content:

{{.Content}}
`))

	chunkTemplate = template.Must(template.New("chunk").Parse(`You are scanning a large file from a GitHub repository located at the path
{{.FilePath}}, one chunk at a time, in order to answer the question '{{.Question}}'.
Summarize the chunk below, keeping any information relevant to the question.
If the chunk has no relevant information, respond with an empty string.

Chunk:

{{.Content}}
`))

	synthesisTemplate = template.Must(template.New("synthesis").Parse(`You scanned a large file from a GitHub repository located at the path
{{.FilePath}} chunk by chunk, summarizing each chunk for information that answers
the question '{{.Question}}'. The chunk summaries follow, in file order. Using them,
answer the question. If the summaries have no information relevant to the
question, reply that there is not enough information in the file to provide an
answer.

summaries:

{{.Content}}
`))
)

type promptData struct {
	FilePath string
	Question string
	Content  string
}

func render(t *template.Template, filePath, question, content string) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, promptData{FilePath: filePath, Question: question, Content: content}); err != nil {
		return "", err
	}
	return sb.String(), nil
}
