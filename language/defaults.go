package language

// Language keys of the built-in catalog.
const (
	KeyJavaScript = "js"
	KeyTypeScript = "ts"
	KeyPython     = "py"
	KeyJava       = "java"
	KeyCPP        = "cpp"
	KeyC          = "c"
)

// Defaults returns the built-in language catalog. Every entry starts and
// prints within the default ceilings on a cold sandbox; toolchains that
// must first build their own runtime, such as Go, belong in a catalog file
// with an image that carries a warm build cache.
//
// Compiled languages write their binary next to the source, inside the
// workspace, so nothing outlives the execution.
func Defaults() []Descriptor {
	return []Descriptor{
		{
			Key:         KeyJavaScript,
			DisplayName: "JavaScript",
			Extension:   ".js",
			Image:       "node:18-alpine",
			Command:     mustParseCommand("node {file}"),
		},
		{
			Key:         KeyTypeScript,
			DisplayName: "TypeScript",
			Extension:   ".ts",
			Image:       "node:22-alpine",
			Command:     mustParseCommand("node --experimental-strip-types --no-warnings {file}"),
		},
		{
			Key:         KeyPython,
			DisplayName: "Python",
			Extension:   ".py",
			Image:       "python:3.11-slim",
			Env:         map[string]string{"PYTHONDONTWRITEBYTECODE": "1"},
			Command:     mustParseCommand("python -u {file}"),
		},
		{
			Key:         KeyJava,
			DisplayName: "Java",
			Extension:   ".java",
			Image:       "eclipse-temurin:21-jdk",
			// Single-file source launch does not require the class name to match the file.
			Command: mustParseCommand("java {file}"),
		},
		{
			Key:         KeyCPP,
			DisplayName: "C++",
			Extension:   ".cpp",
			Image:       "gcc:13.2.0",
			Command:     mustParseCommand(`sh -c 'g++ -std=c++17 -O2 -o main "$1" && ./main' sh {file}`),
		},
		{
			Key:         KeyC,
			DisplayName: "C",
			Extension:   ".c",
			Image:       "gcc:13.2.0",
			Command:     mustParseCommand(`sh -c 'gcc -O2 -o main "$1" -lm && ./main' sh {file}`),
		},
	}
}
