// Package engine wires the stepflow subsystems together and provides the
// application-level API for registering task types and submitting tasks.
//
// The engine package exists to break an import cycle: the root stepflow
// package defines Entity and the sentinel errors (imported by task, cron
// and the stores) and therefore cannot import those packages back. Engine
// sits above every subsystem and below the application.
//
// # Building an Engine
//
//	srv, err := stepflow.New(
//	    stepflow.WithStore(pgStore),
//	    stepflow.WithConcurrency(20),
//	    stepflow.WithCapabilities("ssh", "cloud"),
//	)
//
//	eng, err := engine.Build(srv,
//	    engine.WithExtension(audit),
//	    engine.WithGroupConfig(group.Config{Name: "infra", MaxConcurrency: 4}),
//	)
//
// # Registering and Submitting
//
//	typ, err := engine.Register(eng, task.NewDefinition[Host]("provision", table).
//	    Entry("boot", bootHost).
//	    Decision("booted", checkBooted))
//
//	t, err := engine.Submit(ctx, eng, "provision", Host{Name: "web-1"},
//	    task.AtPriority(5))
//
// # Operating
//
// [Engine.Signal] resolves a callback token and wakes its task.
// [Engine.Terminate] asks a task to stop at its next step boundary.
// [Engine.Pause], [Engine.PauseGroup] and [Engine.Maintenance] set the
// shared flags every server reads before claiming.
//
// # Lifecycle
//
//	eng.Start(ctx) // elector, cron scheduler, claim loop
//	defer eng.Stop(ctx)
package engine
