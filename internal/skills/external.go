package skills

// ExternalExecutorSkills returns the descriptors for the seven skills
// agents invoke by emitting code that the Workspace Client runs remotely.
// Their Execute is always nil: the registry only describes them, it never
// runs them.
func ExternalExecutorSkills() []Skill {
	return []Skill{
		{
			Name:        "read_file",
			Version:     "1.0.0",
			Signature:   "read_file(path: str) -> str",
			Description: "Read the full contents of a file in the workspace.",
			Target:      ExternalExecutor,
			Policy:      ReadOnlyPolicy(30),
		},
		{
			Name:        "write_file",
			Version:     "1.0.0",
			Signature:   "write_file(path: str, content: str) -> None",
			Description: "Write content to a file in the workspace, creating it if needed.",
			Target:      ExternalExecutor,
			Policy:      WriteAllowedPolicy(30),
		},
		{
			Name:        "list_files",
			Version:     "1.0.0",
			Signature:   "list_files(path: str = \".\") -> list[str]",
			Description: "List files under a directory in the workspace, recursively.",
			Target:      ExternalExecutor,
			Policy:      ReadOnlyPolicy(30),
		},
		{
			Name:        "apply_patch",
			Version:     "1.0.0",
			Signature:   "apply_patch(diff: str) -> str",
			Description: "Apply a unified diff to the workspace and return the result of the apply.",
			Target:      ExternalExecutor,
			Policy:      WriteAllowedPolicy(30),
		},
		{
			Name:        "run_command",
			Version:     "1.0.0",
			Signature:   "run_command(cmd: str, timeout_sec: int = 300) -> dict",
			Description: "Run a shell command in the workspace and return exit_code, stdout, stderr.",
			Target:      ExternalExecutor,
			Policy:      Policy{NetworkAllowed: false, FilesystemWrite: true, CommandTimeoutSeconds: 300},
		},
		{
			Name:        "search_code",
			Version:     "1.0.0",
			Signature:   "search_code(query: str, max_results: int = 20) -> list[dict]",
			Description: "Search the workspace's source files for a pattern and return matching locations.",
			Target:      ExternalExecutor,
			Policy:      ReadOnlyPolicy(30),
		},
		{
			Name:        "git_diff",
			Version:     "1.0.0",
			Signature:   "git_diff(ref: str = \"HEAD\") -> str",
			Description: "Return the unified diff between the workspace's working tree and the given git ref.",
			Target:      ExternalExecutor,
			Policy:      ReadOnlyPolicy(30),
		},
	}
}
