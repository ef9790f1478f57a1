package mcpserver

// ContentFormatContract describes the JSON bodies submitted with meeting and
// regulation uploads.
const ContentFormatContract = `# councilhub Content Format

## Meeting agenda (` + "`content`" + ` field of a notifi or minutes upload)

` + "```" + `json
[
  {
    "title": "討論事項",
    "details": [
      {
        "content": "預算案",
        "file_dict": [{"name": "budget.pdf", "url": "budget.pdf"}],
        "fileName": ["appendix.pdf"],
        "deleted_files": ["old.pdf"]
      }
    ]
  }
]
` + "```" + `

- ` + "`file_dict`" + ` lists files the detail already has. ` + "`url`" + ` is the stored name or its full blob URL.
- ` + "`fileName`" + ` lists original names of files uploaded in the same request as ` + "`newfile-*`" + ` parts.
- ` + "`deleted_files`" + ` lists stored names (or URLs) to remove. A file is only removed from storage
  once no other detail references it.
- Submitting ` + "`content`" + ` replaces the whole agenda. Omitting it leaves the agenda untouched.

Meeting fields: title (1-100 chars), session (number, "第12屆" or "第十二屆"), place, datestart,
dateend, person, shorthand, attendance, present, is_visible, uploadType (file or link), videoLink,
chairman, recorder. Media uploads use the MeetingTranscript and videoFile parts.

## Regulation body (` + "`content`" + ` and ` + "`revision`" + ` fields)

` + "```" + `json
[
  {
    "number": 1,
    "title": "總則",
    "articles": [
      {
        "title": "第一條",
        "sort_index": 1,
        "paragraphs": [
          {"number": 1, "content": "本法依...", "clauses": [{"number": 1, "content": "甲"}]}
        ]
      }
    ]
  }
]
` + "```" + `

` + "```" + `json
[{"date": "2022-09-01", "note": "修正第三條"}]
` + "```" + `

- ` + "`number`" + ` and ` + "`sort_index`" + ` accept numbers or numeric strings.
- Revision dates use YYYY-MM-DD.
- Categories, in listing order: 憲制性法規篇, 綜合法規篇, 行政部門篇, 立法部門篇, 司法部門篇, 附錄篇.
  An empty category is stored as "other" and sorts last.
`
