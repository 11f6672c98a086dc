// Package types provides the core data model shared across the questweaver
// orchestration core: messages, tasks, agent status, and workflows.
// This package has ZERO dependencies on other questweaver packages to avoid
// circular imports. All other packages should import types from here.
package types
