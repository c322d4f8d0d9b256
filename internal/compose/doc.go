// Package compose locates and loads the project specification file.
//
// The file uses the docker-compose format (YAML, or JSON with comments for
// compose.json). This package handles:
//   - Discovery by walking from the working directory up through parents
//   - Decoding the short and long forms of build, command, environment,
//     labels and depends_on
//   - Validation that reports every problem at once as a *model.SpecError
//   - Normalisation into a fingerprinted *model.Project with relative
//     paths resolved against the file's directory
package compose
