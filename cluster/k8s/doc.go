// Package k8s implements cluster.Store on the Kubernetes API, for
// deployments where every stepflow server runs as a Pod.
//
// Registration writes the server record into annotations on the server's
// own Pod and discovery lists Pods by label selector. Leadership is a
// coordination/v1 Lease whose holder identity is the server ID.
//
// Hand the provider to engine.WithClusterStore; tasks, locks and signals
// stay in the main store:
//
//	restCfg, _ := clientcmd.BuildConfigFromFlags("", kubeconfig)
//	client := kubernetes.NewForConfigOrDie(restCfg)
//	eng, err := engine.Build(srv,
//	    engine.WithClusterStore(k8s.New(client, "jobs")),
//	)
package k8s
