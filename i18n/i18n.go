// Package i18n holds the fr/en message catalog for API error codes and
// validation violations. French is the default language.
package i18n

import (
	"context"
	"strings"
)

// DefaultLang is used when no supported language is requested.
const DefaultLang = "fr"

type ctxKey struct{}

var catalog = map[string]map[string]string{
	"fr": {
		"required":          "Requis",
		"must_be_positive":  "Doit être positif",
		"out_of_range":      "Hors limites",
		"invalid_format":    "Format invalide",
		"invalid_json":      "Corps JSON invalide",
		"validation_failed": "Données invalides",

		"unauthorized": "Authentification requise",
		"forbidden":    "Accès refusé",

		"pool_not_found":       "Enveloppe budgétaire introuvable",
		"demande_not_found":    "Demande introuvable",
		"allocation_not_found": "Allocation introuvable",
		"transfer_not_found":   "Transfert introuvable",
		"user_not_found":       "Utilisateur introuvable",
		"profile_not_found":    "Profil introuvable",

		"insufficient_funds":      "Fonds disponibles insuffisants",
		"pool_not_active":         "L'enveloppe budgétaire n'est pas active",
		"pool_closed":             "L'enveloppe budgétaire est clôturée",
		"demande_not_approved":    "La demande n'est pas approuvée",
		"duplicate_allocation":    "La demande dispose déjà d'une allocation active",
		"invalid_transition":      "Changement de statut non autorisé",
		"invalid_period":          "La période budgétaire est invalide",
		"period_ended":            "La période budgétaire est terminée",
		"total_below_committed":   "Le montant total ne peut pas être inférieur aux montants engagés",
		"no_funds_to_activate":    "Une enveloppe sans montant ne peut pas être activée",
		"pool_not_deletable":      "L'enveloppe a des allocations, transferts ou dépenses en cours",
		"same_pool_transfer":      "Les enveloppes source et cible doivent être différentes",
		"transfer_not_pending":    "Le transfert n'est pas en attente",
		"demande_has_allocation":  "Annulez d'abord l'allocation de la demande",
		"concurrent_modification": "L'enveloppe a été modifiée entre-temps, réessayez",

		"amount_exceeds_approved":      "Le montant dépasse le montant approuvé",
		"amount_exceeds_request_limit": "Le montant dépasse le plafond par demande",
		"category_not_allowed":         "Catégorie non autorisée pour cette enveloppe",
		"eligibility_below_threshold":  "Score d'éligibilité insuffisant",
		"approval_required":            "Validation par un administrateur requise",

		"pool_created":       "Enveloppe budgétaire créée",
		"pool_updated":       "Enveloppe budgétaire mise à jour",
		"pool_deleted":       "Enveloppe budgétaire supprimée",
		"funds_allocated":    "Fonds réservés",
		"allocation_updated": "Allocation mise à jour",
		"transfer_completed": "Transfert effectué",
		"transfer_pending":   "Transfert en attente de validation",
		"transfer_approved":  "Transfert validé",
		"transfer_rejected":  "Transfert refusé",
		"demande_created":    "Demande créée",
		"demande_updated":    "Demande mise à jour",
		"profile_assigned":   "Profil attribué",
		"internal_error":     "Erreur interne",
	},
	"en": {
		"required":          "Required",
		"must_be_positive":  "Must be positive",
		"out_of_range":      "Out of range",
		"invalid_format":    "Invalid format",
		"invalid_json":      "Invalid JSON body",
		"validation_failed": "Invalid data",

		"unauthorized": "Authentication required",
		"forbidden":    "Access denied",

		"pool_not_found":       "Budget pool not found",
		"demande_not_found":    "Request not found",
		"allocation_not_found": "Allocation not found",
		"transfer_not_found":   "Transfer not found",
		"user_not_found":       "User not found",
		"profile_not_found":    "Profile not found",

		"insufficient_funds":      "Insufficient available funds",
		"pool_not_active":         "Budget pool is not active",
		"pool_closed":             "Budget pool is closed",
		"demande_not_approved":    "Request is not approved",
		"duplicate_allocation":    "Request already has a live allocation",
		"invalid_transition":      "Status change not allowed",
		"invalid_period":          "Budget period is invalid",
		"period_ended":            "Budget period has ended",
		"total_below_committed":   "Total amount cannot be lower than committed amounts",
		"no_funds_to_activate":    "A pool without funds cannot be activated",
		"pool_not_deletable":      "Pool has live allocations, pending transfers or spending",
		"same_pool_transfer":      "Source and target pools must differ",
		"transfer_not_pending":    "Transfer is not pending",
		"demande_has_allocation":  "Cancel the request's allocation first",
		"concurrent_modification": "Budget pool was modified concurrently, retry",

		"amount_exceeds_approved":      "Amount exceeds the approved amount",
		"amount_exceeds_request_limit": "Amount exceeds the per-request limit",
		"category_not_allowed":         "Category not allowed for this pool",
		"eligibility_below_threshold":  "Eligibility score below threshold",
		"approval_required":            "Administrator approval required",

		"pool_created":       "Budget pool created",
		"pool_updated":       "Budget pool updated",
		"pool_deleted":       "Budget pool deleted",
		"funds_allocated":    "Funds reserved",
		"allocation_updated": "Allocation updated",
		"transfer_completed": "Transfer completed",
		"transfer_pending":   "Transfer pending approval",
		"transfer_approved":  "Transfer approved",
		"transfer_rejected":  "Transfer rejected",
		"demande_created":    "Request created",
		"demande_updated":    "Request updated",
		"profile_assigned":   "Profile assigned",
		"internal_error":     "Internal error",
	},
}

// DetectLanguage picks "en" or "fr" from an Accept-Language header.
// Only the first tag is considered.
func DetectLanguage(acceptLanguage string) string {
	first, _, _ := strings.Cut(acceptLanguage, ",")
	first, _, _ = strings.Cut(first, ";")
	tag := strings.ToLower(strings.TrimSpace(first))
	if tag == "en" || strings.HasPrefix(tag, "en-") {
		return "en"
	}
	return DefaultLang
}

// T translates code into lang. Unknown languages fall back to French and
// unknown codes are returned unchanged.
func T(lang, code string) string {
	if msgs, ok := catalog[lang]; ok {
		if msg, ok := msgs[code]; ok {
			return msg
		}
	}
	if msg, ok := catalog[DefaultLang][code]; ok {
		return msg
	}
	return code
}

// WithLang stores the request language in ctx.
func WithLang(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, ctxKey{}, lang)
}

// LangFromContext returns the language stored by WithLang, or DefaultLang.
func LangFromContext(ctx context.Context) string {
	if lang, ok := ctx.Value(ctxKey{}).(string); ok && lang != "" {
		return lang
	}
	return DefaultLang
}
