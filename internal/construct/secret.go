package construct

const (
	typeSecret                 = "aws:SecretsManager.Secret"
	typeSecretTargetAttachment = "aws:SecretsManager.SecretTargetAttachment"
)

// SecretRef is an opaque handle to credential material held by the secret
// store. It never carries the secret value.
type SecretRef struct {
	ref Ref
}

func (r SecretRef) Ref() Ref {
	return r.ref
}

// Field names one JSON key inside the secret.
func (r SecretRef) Field(key string) SecretField {
	return SecretField{Secret: r.ref, Key: key}
}

// SecretField is one key of a JSON secret, injected into compute at
// runtime by the platform.
type SecretField struct {
	Secret Ref
	Key    string
}

// ValueFrom is the secret locator the runtimes accept:
// <secret arn>:<json key>::
func (f SecretField) ValueFrom() string {
	return f.Secret.Interp("arn") + ":" + f.Key + "::"
}
