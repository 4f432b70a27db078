// Package meshnode defines the node API that local clients talk to.
//
// A MeshNode sits between the HTTP control surface and the mesh bridge:
//   - SubmitCommand turns a request into a job and dispatches it in the background
//   - PublishEvent sends a one-way event
//   - SubmitTransfer splits a file into transfer frames and sends them
//
// Job lifecycle:
//
//	submitted -> dispatched -> succeeded
//	                        -> failed
//	submitted ------------> failed
//
// A job never moves backwards. A dispatched job succeeds when a Result
// whose correlation_id equals the command's message_id arrives, and fails
// when its TTL expires first. Failed sends are not retried.
//
// Example usage:
//
//	node, err := meshnode.New(config, components)
//	if err != nil {
//		return err
//	}
//	if err := node.Start(ctx); err != nil {
//		return err
//	}
//	defer node.Close()
//
//	job, err := node.SubmitCommand(ctx, meshnode.CommandRequest{
//		Operation: "emergency_action_message.create",
//		Payload:   []byte(`{"message":"evacuate"}`),
//		Identity:  callerIdentity,
//	})
package meshnode
