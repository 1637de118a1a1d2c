package apply

import (
	"bytes"

	"github.com/metakv/metakv/internal/kv"
)

func (a *Applier) applyTxn(req TxnRequest) TxnReply {
	success := a.evalConditions(req.Condition)

	ops := req.ElseThen
	if success {
		ops = req.IfThen
	}

	responses := make([]TxnOpResponse, 0, len(ops))
	for _, op := range ops {
		responses = append(responses, a.execTxnOp(op))
	}

	if a.metrics != nil {
		branch := "else_then"
		if success {
			branch = "if_then"
		}
		a.metrics.TxnApplied.WithLabelValues(branch).Inc()
	}

	return TxnReply{Success: success, Responses: responses}
}

// evalConditions ANDs every condition, short-circuiting at the first
// failure so later conditions never touch state they don't need to.
func (a *Applier) evalConditions(conds []Condition) bool {
	for _, c := range conds {
		if !a.evalOneCondition(c) {
			return false
		}
	}
	return true
}

func (a *Applier) evalOneCondition(c Condition) bool {
	current, ok := a.sm.GetKV(c.Key)
	if !ok {
		// An absent key has seq 0 and no value. A value comparison on an
		// absent key is always false, but a seq comparison still runs
		// against seq=0 — e.g. Eq against SeqTarget(0) is satisfied.
		if c.Target.Kind == TargetValue {
			return false
		}
		return c.Expected.eval(compareUint64(0, c.Target.Seq))
	}

	switch c.Target.Kind {
	case TargetSeq:
		return c.Expected.eval(compareUint64(current.Seq, c.Target.Seq))
	case TargetValue:
		return c.Expected.eval(bytes.Compare(current.Data, c.Target.Value))
	default:
		return false
	}
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (a *Applier) execTxnOp(op TxnOp) TxnOpResponse {
	switch op.Kind {
	case TxnOpGet:
		return a.execGet(op)
	case TxnOpPut:
		return a.execPut(op)
	case TxnOpDelete:
		return a.execDelete(op)
	case TxnOpDeleteByPrefix:
		return a.execDeleteByPrefix(op)
	default:
		return TxnOpResponse{Kind: op.Kind, Key: op.Key}
	}
}

func (a *Applier) execGet(op TxnOp) TxnOpResponse {
	v, ok := a.sm.GetKV(op.Key)
	resp := TxnOpResponse{Kind: TxnOpGet, Key: op.Key}
	if ok {
		resp.Result = &v
	}
	return resp
}

func (a *Applier) execPut(op TxnOp) TxnOpResponse {
	req := kv.NewUpsertKV(op.Key, kv.MatchAny(), kv.Update(op.Value), op.ValueMeta)
	prev, result := a.applyUpsertKV(req)
	resp := TxnOpResponse{Kind: TxnOpPut, Key: op.Key}
	if prev.IsSome() {
		resp.Prev = &prev
	}
	if result.IsSome() {
		resp.Result = &result
	}
	return resp
}

func (a *Applier) execDelete(op TxnOp) TxnOpResponse {
	match := kv.MatchAny()
	if op.PrevSeq != nil {
		match = kv.MatchExact(*op.PrevSeq)
	}
	req := kv.NewUpsertKV(op.Key, match, kv.Delete(), nil)
	prev, result := a.applyUpsertKV(req)
	resp := TxnOpResponse{Kind: TxnOpDelete, Key: op.Key}
	if prev.IsSome() {
		resp.Prev = &prev
	}
	if result.IsSome() {
		resp.Result = &result
	}
	return resp
}

func (a *Applier) execDeleteByPrefix(op TxnOp) TxnOpResponse {
	count := 0
	for _, key := range a.sm.PrefixKeys(op.Prefix) {
		req := kv.NewUpsertKV(key, kv.MatchAny(), kv.Delete(), nil)
		prev, result, changed := a.sm.UpsertKV(req)
		if changed {
			a.pushChange(key, prev, result)
			count++
		}
	}
	return TxnOpResponse{Kind: TxnOpDeleteByPrefix, Key: op.Prefix, DeletedCount: count}
}
