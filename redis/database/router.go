package database

var cmdTable = make(map[string]*command)

type command struct {
	name     string
	executor ExecFunc
	// arity means allowed number of cmdArgs, arity < 0 means len(args) >= -arity.
	// for example: the arity of `get` is 2, `mget` is -2
	arity int
}

// registerCommand registers a normal command, which only read or modify a limited number of keys
func registerCommand(name string, executor ExecFunc, arity int) *command {
	cmd := &command{
		name:     name,
		executor: executor,
		arity:    arity,
	}
	cmdTable[name] = cmd
	return cmd
}

func init() {
	registerCommand("ping", Ping, -1)
	registerCommand("get", execGet, 2)
	registerCommand("set", execSet, -3)
	registerCommand("del", execDel, 2)
	registerCommand("exists", execExists, 2)
	registerCommand("scan", execScan, 2)
}
