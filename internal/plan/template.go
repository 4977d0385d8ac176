package plan

// Template is the starter CASCADE.md written by `cascade init`.
const Template = `# Example Project

## L1: Foundation

### L2: Core

| Task ID | Task Name | What Changes | Depends On |
|---------|-----------|--------------|------------|
| F1 | Project scaffolding | Create the initial project layout and build files | - |
| F2 | Data model | Define the core data types | F1 |

## L1: Delivery

### L2: Features

| Task ID | Task Name | What Changes | Depends On |
|---------|-----------|--------------|------------|
| D1 | Documentation | Write the README | - |
| D2 | First feature | Implement the first user-facing feature | F2 |
`
