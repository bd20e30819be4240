// Package process spawns and signals a single child process.
//
// A Process owns the parent ends of the child's stdin and stdout so callers
// can speak a protocol over them, while stderr is streamed line by line to a
// logger through an optional LogParser. The child runs in its own process
// group and every signal targets the group, so helpers the child forks die
// with it.
//
// Shutdown escalates from SIGINT to SIGKILL:
//
//	p, err := process.Start(process.Spec{Command: "python3", Args: []string{"server.py"}}, process.Options{
//	    Logger:       logging.GetLogger("supervisor"),
//	    OutputLogger: logging.GetLogger("server"),
//	    LogParser:    process.PythonLogParser,
//	})
//	...
//	code := p.Terminate(5 * time.Second)
//	p.Close()
package process
