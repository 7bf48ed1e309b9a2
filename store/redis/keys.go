package redis

const defaultPrefix = "stepflow:"

// fieldDoc is the hash field holding a record's JSON document.
const fieldDoc = "doc"

// keyspace builds every key under one prefix.
type keyspace string

func (k keyspace) task(id string) string { return string(k) + "task:" + id }

// tasksByCreated is a Sorted Set of task IDs scored by creation time.
func (k keyspace) tasksByCreated() string { return string(k) + "tasks" }

// openTasks is the Set of unfinished task IDs, the claim candidates.
func (k keyspace) openTasks() string { return string(k) + "tasks:open" }

func (k keyspace) lock(name string) string { return string(k) + "lock:" + name }

// locks is the Set of lock names that may be held.
func (k keyspace) locks() string { return string(k) + "locks" }

func (k keyspace) signal(token string) string { return string(k) + "signal:" + token }

func (k keyspace) taskSignals(taskID string) string { return string(k) + "signals:task:" + taskID }

// systemSignals maps a signal type to its system callback token.
func (k keyspace) systemSignals() string { return string(k) + "signals:system" }

func (k keyspace) flags() string { return string(k) + "flags" }

func (k keyspace) server(id string) string { return string(k) + "server:" + id }

// servers is a Sorted Set of server IDs scored by registration time.
func (k keyspace) servers() string { return string(k) + "servers" }

func (k keyspace) leader() string { return string(k) + "leader" }

func (k keyspace) cron(id string) string { return string(k) + "cron:" + id }

// crons is a Sorted Set of cron IDs scored by creation time.
func (k keyspace) crons() string { return string(k) + "crons" }

// cronNames maps cron names to IDs for duplicate detection.
func (k keyspace) cronNames() string { return string(k) + "cron_names" }
