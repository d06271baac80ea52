package mcpserver

// SourceFormatContract describes the per-project source document that the
// sync writer reads. Agents that maintain it should follow this layout.
const SourceFormatContract = `# mnemo Source Document Format

Each project keeps one JSON object, by default at ` + "`" + `.mnemo/files.json` + "`" + `
under the project root. Keys are file paths relative to the root, using
forward slashes. Values describe the file.

## Entry fields

| Field           | Type                 | Notes                                      |
|-----------------|----------------------|--------------------------------------------|
| ` + "`" + `summary` + "`" + `       | string               | One or two sentences. Searched and embedded. |
| ` + "`" + `purpose` + "`" + `       | string               | Why the file exists. Searched and embedded.  |
| ` + "`" + `componentName` + "`" + ` | string or null       | UI component exported by the file.         |
| ` + "`" + `isComponent` + "`" + `   | boolean              |                                            |
| ` + "`" + `functions` + "`" + `     | array                | ` + "`" + `{name, line, type}` + "`" + `; line is 1-based.        |
| ` + "`" + `hooks` + "`" + `         | array of strings     | Stored, not indexed.                       |
| ` + "`" + `keyLogic` + "`" + `      | string or string[]   | Embedded only.                             |

Unknown fields are ignored. An entry that fails validation is skipped and the
previously indexed version of that file is kept, so a typo never deletes data.

## Example

` + "```" + `json
{
  "src/auth/login.ts": {
    "summary": "Handles the user login flow",
    "purpose": "authenticate users against the session API",
    "functions": [{"name": "loginUser", "line": 12, "type": "function"}],
    "keyLogic": ["validate credentials", "store session token"]
  }
}
` + "```" + `

After editing the document call ` + "`" + `check_freshness` + "`" + ` or run ` + "`" + `mnemo sync <project>` + "`" + `.
`
