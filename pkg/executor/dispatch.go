package executor

import (
	"github.com/fortiblox/cirrus/pkg/buffer"
	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/contracts/metadata"
	"github.com/fortiblox/cirrus/pkg/programs/addralloc"
	"github.com/fortiblox/cirrus/pkg/slots"
)

// execContext is the contracts.EnvCaller behind every environment handle:
// it resolves the callee, opens a slot scope for the call and marshals the
// arguments the method metadata declares.
type execContext struct {
	exec  *Executor
	scope *slots.NestedSlots

	// allowEnvMutation gates init and update methods. Verification and
	// view scopes run with it off.
	allowEnvMutation bool
}

// Call implements contracts.EnvCaller.
func (c *execContext) Call(from contracts.EnvState, method contracts.MethodContext, prepared *contracts.PreparedMethod) error {
	log := c.exec.logger

	codeBytes, ok := c.scope.GetCode(prepared.Contract)
	if !ok {
		log.Errorf("contract or its code not found: contract=%s", prepared.Contract)
		return contracts.ErrNotFound
	}
	details, ok := c.exec.registry[registryKey{
		code:        string(codeBytes),
		fingerprint: prepared.Fingerprint,
	}]
	if !ok {
		log.Errorf("method not registered: contract=%s fingerprint=%s",
			prepared.Contract, prepared.Fingerprint)
		return contracts.ErrNotImplemented
	}

	calleeState := contracts.EnvState{
		Shard:      c.exec.shard,
		OwnAddress: prepared.Contract,
		Caller:     from.OwnAddress,
	}
	switch method {
	case contracts.MethodContextKeep:
		calleeState.ContextAddress = from.ContextAddress
	case contracts.MethodContextReplace:
		calleeState.ContextAddress = from.OwnAddress
	}

	// Minting a new address is the one call the executor itself observes:
	// the returned address becomes a contract slots may be created for.
	isAllocation := prepared.Contract == c.exec.allocator &&
		prepared.Fingerprint == addralloc.FingerprintAllocateAddress

	return c.dispatch(calleeState, details, prepared, isAllocation)
}

func (c *execContext) dispatch(calleeState contracts.EnvState, details methodDetails, prepared *contracts.PreparedMethod, isAllocation bool) error {
	log := c.exec.logger

	item, args, err := metadata.NewMethodDecoder(details.metadata, metadata.ContainerUnknown).DecodeNext()
	if err != nil {
		log.Errorf("method metadata decoding error: %v", err)
		return contracts.ErrInternalError
	}

	totalArgs := item.NumArguments
	if item.Kind.HasSelf() {
		totalArgs++
	}
	if totalArgs > contracts.MaxTotalMethodArgs {
		log.Debugf("too many method arguments: %d", totalArgs)
		return contracts.ErrBadInput
	}

	viewOnly := item.Kind.IsView()
	var scope *slots.NestedSlots
	if viewOnly {
		// Views never observe a context.
		calleeState.ContextAddress = contracts.AddressNull
		scope = c.scope.NestedRO()
	} else {
		if !c.allowEnvMutation {
			log.Warningf("only view methods are allowed in this context: method=%s", item.Name)
			return contracts.ErrForbidden
		}
		rw, ok := c.scope.NestedRW()
		if !ok {
			log.Errorf("unexpected creation of read-write slot scope from read-only scope")
			return contracts.ErrInternalError
		}
		scope = rw
	}
	defer scope.Close()

	call := &contracts.MethodCall{}
	stateKey := slots.SlotKey{
		Owner:    calleeState.OwnAddress,
		Contract: contracts.AddressSystemState,
	}

	switch item.Kind {
	case metadata.MethodUpdateStatefulRo, metadata.MethodViewStateful:
		stateBytes, ok := scope.UseRO(stateKey)
		if !ok {
			return contracts.ErrForbidden
		}
		if len(stateBytes) == 0 {
			log.Warningf("can't call stateful method before init: contract=%s", calleeState.OwnAddress)
			return contracts.ErrForbidden
		}
		call.State = &contracts.StateArg{RO: stateBytes}
	case metadata.MethodUpdateStatefulRw:
		_, stateBuf, ok := scope.UseRW(stateKey, details.stateCapacity)
		if !ok {
			return contracts.ErrForbidden
		}
		if stateBuf.Len() == 0 {
			log.Warningf("can't call stateful method before init: contract=%s", calleeState.OwnAddress)
			return contracts.ErrForbidden
		}
		call.State = &contracts.StateArg{RW: stateBuf}
	}

	var (
		env       *contracts.Env
		initState *buffer.Buffer
		slotIdx   int
		inputIdx  int
		outputIdx int
	)
	for {
		arg, err := args.DecodeNext()
		if err != nil {
			log.Errorf("method argument decoding error: %v", err)
			return contracts.ErrInternalError
		}
		if arg == nil {
			break
		}

		switch arg.Kind {
		case metadata.ArgumentEnvRo:
			env = contracts.NewEnv(calleeState, &execContext{
				exec:  c.exec,
				scope: scope,
			})

		case metadata.ArgumentEnvRw:
			if viewOnly {
				return contracts.ErrForbidden
			}
			env = contracts.NewEnv(calleeState, &execContext{
				exec:             c.exec,
				scope:            scope,
				allowEnvMutation: true,
			})

		case metadata.ArgumentTmpRo:
			if viewOnly {
				return contracts.ErrForbidden
			}
			tmpBytes, ok := scope.UseRO(slots.SlotKey{Owner: calleeState.OwnAddress})
			if !ok {
				return contracts.ErrForbidden
			}
			call.Slots = append(call.Slots, contracts.SlotArg{RO: tmpBytes})

		case metadata.ArgumentTmpRw:
			_, tmpBuf, ok := scope.UseRW(slots.SlotKey{Owner: calleeState.OwnAddress}, details.tmpCapacity)
			if !ok {
				return contracts.ErrForbidden
			}
			call.Slots = append(call.Slots, contracts.SlotArg{RW: tmpBuf})

		case metadata.ArgumentSlotRo:
			if slotIdx >= len(prepared.Slots) {
				log.Debugf("missing slot argument: method=%s index=%d", item.Name, slotIdx)
				return contracts.ErrBadInput
			}
			owner := prepared.Slots[slotIdx]
			slotIdx++
			slotBytes, ok := scope.UseRO(slots.SlotKey{Owner: owner, Contract: calleeState.OwnAddress})
			if !ok {
				return contracts.ErrForbidden
			}
			call.Slots = append(call.Slots, contracts.SlotArg{Address: owner, RO: slotBytes})

		case metadata.ArgumentSlotRw:
			if slotIdx >= len(prepared.Slots) {
				log.Debugf("missing slot argument: method=%s index=%d", item.Name, slotIdx)
				return contracts.ErrBadInput
			}
			owner := prepared.Slots[slotIdx]
			slotIdx++
			_, slotBuf, ok := scope.UseRW(slots.SlotKey{Owner: owner, Contract: calleeState.OwnAddress}, details.slotCapacity)
			if !ok {
				return contracts.ErrForbidden
			}
			call.Slots = append(call.Slots, contracts.SlotArg{Address: owner, RW: slotBuf})

		case metadata.ArgumentInput:
			if inputIdx >= len(prepared.Inputs) {
				log.Debugf("missing input argument: method=%s index=%d", item.Name, inputIdx)
				return contracts.ErrBadInput
			}
			call.Inputs = append(call.Inputs, prepared.Inputs[inputIdx])
			inputIdx++

		case metadata.ArgumentOutput:
			// An init method's last output is the newly created state.
			// It binds the state slot instead of a caller buffer and must
			// end up non-empty.
			if item.Kind == metadata.MethodInit && args.RemainingArguments() == 0 {
				_, stateBuf, ok := scope.UseRW(stateKey, details.stateCapacity)
				if !ok {
					return contracts.ErrForbidden
				}
				if stateBuf.Len() != 0 {
					log.Debugf("can't initialize already initialized contract: contract=%s",
						calleeState.OwnAddress)
					return contracts.ErrForbidden
				}
				call.Outputs = append(call.Outputs, stateBuf)
				initState = stateBuf
				continue
			}
			if outputIdx >= len(prepared.Outputs) {
				log.Debugf("missing output argument: method=%s index=%d", item.Name, outputIdx)
				return contracts.ErrBadInput
			}
			out := prepared.Outputs[outputIdx]
			outputIdx++
			out.SetLen(0)
			call.Outputs = append(call.Outputs, out)
		}
	}

	if env == nil {
		// No declared environment argument: hand the method a sealed
		// handle so stray calls fail instead of panicking.
		env = contracts.NewEnv(calleeState, nil)
	}

	if err := details.fn(env, call); err != nil {
		scope.Reset()
		return err
	}

	if isAllocation {
		if len(call.Outputs) == 0 || call.Outputs[len(call.Outputs)-1].Len() != 16 {
			log.Warningf("failed to read new contract address returned by allocator")
			scope.Reset()
			return contracts.ErrInternalError
		}
		var addr contracts.Address
		copy(addr[:], call.Outputs[len(call.Outputs)-1].Bytes())
		if !scope.AddNewContract(addr) {
			log.Warningf("failed to add new contract returned by allocator: address=%s", addr)
			scope.Reset()
			return contracts.ErrInternalError
		}
	}

	if initState != nil && initState.Len() == 0 {
		// Close still settles the scope: the method succeeded and its
		// other writes stand, only the state stayed uninitialized.
		log.Errorf("contract returned empty state from init method: contract=%s",
			calleeState.OwnAddress)
		return contracts.ErrBadOutput
	}
	return nil
}
