package sonar

import "strings"

const promptTemplate = `
Provide the 4 most recent and verified news updates related to real estate and infrastructure in {{AREA}}. Focus strictly on factual updates such as:
- New residential or commercial project launches
- Large-scale investments or acquisitions by builders or developers
- Infrastructure developments (roads, metro, bridges, industrial parks, smart city projects)
- Government or private partnerships impacting local real estate

Exclude general market trends, blog posts, or speculative commentary.

Return the response in this exact JSON format (no extra text):
[
  {
    "title": "<Official news headline>",
    "description": "<Concise 25–40 word summary suitable for card UI; include key project names, companies, or locations>",
    "source": "<Verified publication or news outlet>",
    "link": "<Direct URL to the full article>"
  },
  {
    "title": "...",
    "description": "...",
    "source": "...",
    "link": "..."
  }
]

Make sure:
- The news is from the past 30 days only.
- Every link is a valid working URL to a credible news site.
- Each description is objective, informative, and grammatically correct.
- Always return exactly 4 results in the array.
- Focus on relevance and authenticity, matching the tone of a professional real estate intelligence platform like BhuviSx.
`

// BuildPrompt fills the fixed prompt template with area.
func BuildPrompt(area string) string {
	return strings.ReplaceAll(promptTemplate, "{{AREA}}", area)
}
