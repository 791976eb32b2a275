package assistant

const (
	msgNeedImage        = "Envoyez-moi d'abord une photo du bien, puis dites-moi ce que vous souhaitez modifier."
	msgInsufficient     = "Vous n'avez plus de crédit pour les retouches. Rechargez votre compte pour continuer."
	msgEditDone         = "Voici la photo retouchée. Vous pouvez demander une autre modification sur ce résultat."
	msgEditFailed       = "La retouche n'a pas pu être réalisée, même après une nouvelle tentative. Aucun crédit n'a été débité. Vous pouvez réessayer."
	msgUnavailable      = "Le service est momentanément indisponible. Aucun crédit n'a été débité, réessayez dans un instant."
	msgConversationFail = "Désolé, je ne peux pas répondre pour le moment. Réessayez dans un instant."
	msgAnalysisFail     = "L'analyse de la photo n'a pas pu être réalisée. Réessayez dans un instant."
	msgNoIssues         = "Je n'ai relevé aucun défaut visuel notable sur cette photo."
	msgNothingToFix     = "Aucun défaut à corriger pour le moment. Envoyez une photo pour que je l'analyse."
	msgFixHint          = "Tapez /fix pour corriger automatiquement ces points (1 crédit)."
	msgFixRequest       = "Corrige les défauts détectés."
	msgAnalysisHeader   = "Points à améliorer :"
)
