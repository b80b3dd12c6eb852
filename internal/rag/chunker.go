package rag

import "strings"

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

// boundaries are tried in preference order when cutting a chunk: sentence
// end, paragraph break, line break, word break.
var boundaries = []string{". ", ".\n", "\n\n", "\n", " "}

// ChunkText splits text into overlapping chunks of roughly chunkSize
// characters. A cut point is moved back to the nearest boundary marker when
// one falls past the chunk's midpoint; otherwise the chunk is cut at the raw
// target length. Text at or under chunkSize comes back as a single chunk.
func ChunkText(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultOverlap
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0

	for start < len(text) {
		end := start + chunkSize

		if end < len(text) {
			window := text[start:end]
			for _, boundary := range boundaries {
				if idx := strings.LastIndex(window, boundary); idx > chunkSize/2 {
					end = start + idx + len(boundary)
					break
				}
			}
		} else {
			end = len(text)
		}

		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}
